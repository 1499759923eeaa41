package logging

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Имена компонентов, у которых есть собственный файл лога
const (
	ComponentAPI      = "api"
	ComponentGameMap  = "gamemap"
	ComponentCache    = "cache"
	ComponentWebhooks = "webhooks"
)

// registry логгеры компонентов создаются при первом обращении и живут до CloseAll
var registry = struct {
	mu      sync.Mutex
	loggers map[string]*Logger
}{loggers: make(map[string]*Logger)}

// GetComponentLogger возвращает логгер компонента.
// Если файл лога не открылся, компонент пишет только в консоль.
func GetComponentLogger(component string) *Logger {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if l, ok := registry.loggers[component]; ok {
		return l
	}
	l, err := NewLogger(component)
	if err != nil {
		getDefault().Warn("logger for %s: %v, using console", component, err)
		l = NewWriterLogger(component, os.Stdout, currentOptions().ConsoleLevel)
	}
	registry.loggers[component] = l
	return l
}

func GetAPILogger() *Logger     { return GetComponentLogger(ComponentAPI) }
func GetGameMapLogger() *Logger { return GetComponentLogger(ComponentGameMap) }
func GetCacheLogger() *Logger   { return GetComponentLogger(ComponentCache) }

// Components имена созданных логгеров по алфавиту
func Components() []string {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	names := make([]string, 0, len(registry.loggers))
	for name := range registry.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll закрывает файлы всех логгеров компонентов и забывает их;
// следующий GetComponentLogger откроет файл заново
func CloseAll() error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	var errs []error
	for name, l := range registry.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s logger: %w", name, err))
		}
	}
	registry.loggers = make(map[string]*Logger)
	return errors.Join(errs...)
}
