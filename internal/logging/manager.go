package logging

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// LoggerManager реестр логгеров по компонентам. Каждый компонент получает
// один *Logger на процесс; файл компонента открывается при первом запросе.
type LoggerManager struct {
	mu      sync.Mutex
	loggers map[string]*Logger
}

var globalManager = &LoggerManager{loggers: make(map[string]*Logger)}

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager { return globalManager }

// GetLogger возвращает логгер компонента, создавая его при первом обращении
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if logger, ok := lm.loggers[component]; ok {
		return logger, nil
	}
	logger, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("logger %s: %w", component, err)
	}
	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger как GetLogger, но при ошибке файла возвращает консольный логгер.
// Консольный логгер не кешируется: следующий вызов снова попробует открыть файл.
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err != nil {
		return newConsoleLogger(component, currentOptions().ConsoleLevel)
	}
	return logger
}

// CloseAll закрывает файлы всех компонентов и очищает реестр
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", component, err))
		}
	}
	clear(lm.loggers)
	return errors.Join(errs...)
}

// ListComponents имена зарегистрированных компонентов по алфавиту
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return slices.Sorted(maps.Keys(lm.loggers))
}

// SetLogLevel меняет уровни уже созданного логгера компонента
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.Lock()
	logger, ok := lm.loggers[component]
	lm.mu.Unlock()
	if !ok {
		return fmt.Errorf("logger for component %s not found", component)
	}
	logger.setLevels(consoleLevel, fileLevel)
	return nil
}

// SetAllLevels меняет уровни всех созданных логгеров. Логгеры, созданные позже,
// берут уровни из Options (см. Configure).
func (lm *LoggerManager) SetAllLevels(consoleLevel, fileLevel LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for _, logger := range lm.loggers {
		logger.setLevels(consoleLevel, fileLevel)
	}
}

// GetComponentLogger логгер произвольного компонента
func GetComponentLogger(component string) *Logger {
	return globalManager.MustGetLogger(component)
}

// GetNetworkLogger транспорт и кадрирование
func GetNetworkLogger() *Logger { return GetComponentLogger("network") }

// GetClientLogger оркестратор сессии
func GetClientLogger() *Logger { return GetComponentLogger("client") }

// GetWorldLogger кеш блоков и ландшафт
func GetWorldLogger() *Logger { return GetComponentLogger("world") }

// GetEventsLogger шина уведомлений и ретрансляция
func GetEventsLogger() *Logger { return GetComponentLogger("events") }

// GetDevServerLogger сервер разработки
func GetDevServerLogger() *Logger { return GetComponentLogger("devserver") }
