package logging

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	// OFF отключает вывод
	OFF
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case OFF:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из строки конфигурации. Пустая строка даёт fallback.
func ParseLevel(s string, fallback LogLevel) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return fallback, nil
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "OFF", "NONE":
		return OFF, nil
	}
	return fallback, fmt.Errorf("unknown log level %q", s)
}

// Options настройки логгеров. Dir == "": только консоль.
type Options struct {
	Dir          string
	ConsoleLevel LogLevel
	FileLevel    LogLevel
	MaxSizeMB    int
	MaxBackups   int
}

// DefaultOptions возвращает настройки по умолчанию
func DefaultOptions() Options {
	return Options{
		ConsoleLevel: INFO,
		FileLevel:    DEBUG,
		MaxSizeMB:    50,
		MaxBackups:   5,
	}
}

// Logger представляет логгер отдельного компонента
type Logger struct {
	component       string
	consoleLogger   *log.Logger
	fileLogger      *log.Logger
	file            io.WriteCloser
	minConsoleLevel LogLevel
	minFileLevel    LogLevel
	mu              sync.RWMutex
}

var (
	optionsMu sync.RWMutex
	options   = DefaultOptions()

	defaultMu     sync.RWMutex
	defaultLogger = newConsoleLogger("app", INFO)
)

func newConsoleLogger(component string, level LogLevel) *Logger {
	return &Logger{
		component:       component,
		consoleLogger:   log.New(os.Stdout, "", log.LstdFlags),
		minConsoleLevel: level,
		minFileLevel:    OFF,
	}
}

// Configure задаёт настройки логгеров. Уровни применяются и к уже созданным,
// каталог файлов только к создаваемым после вызова.
func Configure(opts Options) {
	optionsMu.Lock()
	options = opts
	optionsMu.Unlock()
	globalManager.SetAllLevels(opts.ConsoleLevel, opts.FileLevel)
}

func currentOptions() Options {
	optionsMu.RLock()
	defer optionsMu.RUnlock()
	return options
}

// NewLogger создаёт логгер компонента. Файл пишется через lumberjack с ротацией.
func NewLogger(component string) (*Logger, error) {
	opts := currentOptions()
	logger := newConsoleLogger(component, opts.ConsoleLevel)
	logger.minFileLevel = opts.FileLevel

	if opts.Dir == "" || opts.FileLevel == OFF {
		logger.minFileLevel = OFF
		return logger, nil
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории логов: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, component+".log"),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
	logger.file = file
	logger.fileLogger = log.New(file, "", log.LstdFlags|log.Lmicroseconds)
	return logger, nil
}

// Close закрывает файл логгера
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.fileLogger = nil
	return err
}

// Component возвращает имя компонента
func (l *Logger) Component() string {
	return l.component
}

// Enabled сообщает, будет ли записано сообщение данного уровня
func (l *Logger) Enabled(level LogLevel) bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.minConsoleLevel || (l.fileLogger != nil && level >= l.minFileLevel)
}

func (l *Logger) setLevels(console, file LogLevel) {
	l.mu.Lock()
	l.minConsoleLevel = console
	l.minFileLevel = file
	l.mu.Unlock()
}

func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	toConsole := level >= l.minConsoleLevel
	toFile := l.fileLogger != nil && level >= l.minFileLevel
	if !toConsole && !toFile {
		return
	}

	message := fmt.Sprintf("[%s] [%s] %s", level.String(), l.component, fmt.Sprintf(format, args...))
	if toFile {
		l.fileLogger.Println(message)
	}
	if toConsole {
		l.consoleLogger.Println(message)
	}
}

// Trace логирует сообщение уровня TRACE
func (l *Logger) Trace(format string, args ...interface{}) { l.logf(TRACE, format, args...) }

// Debug логирует сообщение уровня DEBUG
func (l *Logger) Debug(format string, args ...interface{}) { l.logf(DEBUG, format, args...) }

// Info логирует сообщение уровня INFO
func (l *Logger) Info(format string, args ...interface{}) { l.logf(INFO, format, args...) }

// Warn логирует сообщение уровня WARN
func (l *Logger) Warn(format string, args ...interface{}) { l.logf(WARN, format, args...) }

// Error логирует сообщение уровня ERROR
func (l *Logger) Error(format string, args ...interface{}) { l.logf(ERROR, format, args...) }

// InitDefaultLogger инициализирует логгер по умолчанию для пакетных функций
func InitDefaultLogger(component string) error {
	logger, err := GetLoggerManager().GetLogger(component)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
	return nil
}

// CloseDefaultLogger закрывает все логгеры и возвращает консольный логгер по умолчанию
func CloseDefaultLogger() {
	_ = GetLoggerManager().CloseAll()
	defaultMu.Lock()
	defaultLogger = newConsoleLogger("app", currentOptions().ConsoleLevel)
	defaultMu.Unlock()
}

func current() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Trace логирует через логгер по умолчанию
func Trace(format string, args ...interface{}) { current().Trace(format, args...) }

// Debug логирует через логгер по умолчанию
func Debug(format string, args ...interface{}) { current().Debug(format, args...) }

// Info логирует через логгер по умолчанию
func Info(format string, args ...interface{}) { current().Info(format, args...) }

// Warn логирует через логгер по умолчанию
func Warn(format string, args ...interface{}) { current().Warn(format, args...) }

// Error логирует через логгер по умолчанию
func Error(format string, args ...interface{}) { current().Error(format, args...) }

// HexDump создает hex дамп данных
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}

	// Ограничиваем размер дампа до 256 байт
	size := len(data)
	if size > 256 {
		size = 256
	}

	return hex.Dump(data[:size])
}

// LogProtocolError логирует ошибки разбора протокола
func (l *Logger) LogProtocolError(connID string, err error, data []byte) {
	l.Error("Protocol error from %s: %v", connID, err)
	if len(data) > 0 {
		l.Error("Raw data (%d bytes):\n%s", len(data), HexDump(data))
	}
}

// LogPacket логирует пакет с hex дампом на уровне TRACE
func (l *Logger) LogPacket(connID, direction string, packetType interface{}, payload []byte) {
	if !l.Enabled(TRACE) {
		return
	}
	l.Trace("=== %s PACKET %s === type=%v size=%d", direction, connID, packetType, len(payload))
	if len(payload) > 0 {
		l.Trace("%s", HexDump(payload))
	}
}
