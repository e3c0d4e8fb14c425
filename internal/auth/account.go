package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/annel0/tilesync/internal/protocol"
)

// Account represents a devserver login.
type Account struct {
	ID           uint64
	Username     string // unique, case-insensitive
	PasswordHash string // bcrypt
	Access       protocol.AccessLevel
	CreatedAt    time.Time
	LastLogin    time.Time
}

// AccountRepository defines operations for account lookup and validation.
type AccountRepository interface {
	// GetAccount returns an account by username (case-insensitive) or ErrUserNotFound.
	GetAccount(username string) (*Account, error)

	// CreateAccount stores a new account. Caller passes a bcrypt hash.
	// Returns ErrUserExists on conflict.
	CreateAccount(username, passwordHash string, access protocol.AccessLevel) (*Account, error)

	// ValidateCredentials returns the account when username and password match.
	ValidateCredentials(username, password string) (*Account, error)
}

// Domain-level errors returned by the repository.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")
	ErrInvalidPassword = errors.New("invalid password")
)

// ParseAccessLevel converts a config name (view, normal, developer, admin) to a level.
func ParseAccessLevel(s string) (protocol.AccessLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return protocol.AccessNormal, nil
	case "none":
		return protocol.AccessNone, nil
	case "view":
		return protocol.AccessView, nil
	case "developer", "dev":
		return protocol.AccessDeveloper, nil
	case "admin", "administrator":
		return protocol.AccessAdministrator, nil
	}
	return protocol.AccessNone, fmt.Errorf("unknown access level %q", s)
}

// LoadAccounts fills repo from "name -> password[:level]" pairs.
func LoadAccounts(repo *MemoryAccountRepo, entries map[string]string) error {
	for name, spec := range entries {
		password, level, _ := strings.Cut(spec, ":")
		access, err := ParseAccessLevel(level)
		if err != nil {
			return fmt.Errorf("account %s: %w", name, err)
		}
		if _, err := repo.AddAccount(name, password, access); err != nil {
			return fmt.Errorf("account %s: %w", name, err)
		}
	}
	return nil
}
