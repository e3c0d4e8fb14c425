package auth

import (
	"strings"
	"sync"
	"time"

	"github.com/annel0/tilesync/internal/protocol"
)

// MemoryAccountRepo is a threadsafe in-memory account storage.
// ID counter starts from 1.
type MemoryAccountRepo struct {
	mu       sync.RWMutex
	accounts map[string]*Account // key = lowercase(username)
	nextID   uint64
	cost     int
}

// NewMemoryAccountRepo returns an empty repository. bcryptCost 0 means bcrypt.DefaultCost.
func NewMemoryAccountRepo(bcryptCost int) *MemoryAccountRepo {
	return &MemoryAccountRepo{
		accounts: make(map[string]*Account),
		nextID:   1,
		cost:     bcryptCost,
	}
}

// AddAccount hashes the password and stores the account.
func (r *MemoryAccountRepo) AddAccount(username, password string, access protocol.AccessLevel) (*Account, error) {
	hash, err := HashPassword(password, r.cost)
	if err != nil {
		return nil, err
	}
	return r.CreateAccount(username, hash, access)
}

// GetAccount retrieves an account by case-insensitive username.
func (r *MemoryAccountRepo) GetAccount(username string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accounts[normalize(username)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return acc, nil
}

// CreateAccount inserts a new account if username not present.
func (r *MemoryAccountRepo) CreateAccount(username, passwordHash string, access protocol.AccessLevel) (*Account, error) {
	key := normalize(username)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[key]; exists {
		return nil, ErrUserExists
	}

	acc := &Account{
		ID:           r.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		Access:       access,
		CreatedAt:    time.Now(),
	}
	r.nextID++
	r.accounts[key] = acc
	return acc, nil
}

// ValidateCredentials checks the password and records the login time.
func (r *MemoryAccountRepo) ValidateCredentials(username, password string) (*Account, error) {
	acc, err := r.GetAccount(username)
	if err != nil {
		return nil, err
	}
	if !CheckPassword(acc.PasswordHash, password) {
		return nil, ErrInvalidPassword
	}
	r.mu.Lock()
	acc.LastLogin = time.Now()
	r.mu.Unlock()
	return acc, nil
}

// Len returns the number of accounts.
func (r *MemoryAccountRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// Helper to normalise usernames.
func normalize(username string) string {
	return strings.ToLower(username)
}
