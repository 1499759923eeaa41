package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
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
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает имя уровня без учёта регистра
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("неизвестный уровень логирования %q", s)
	}
}

// Options настройки файлового логирования
type Options struct {
	Dir          string   // каталог для файлов логов; пусто: только консоль
	ConsoleLevel LogLevel // минимальный уровень для консоли
	FileLevel    LogLevel // минимальный уровень для файла
}

var (
	optsMu  sync.RWMutex
	options = Options{ConsoleLevel: INFO, FileLevel: DEBUG}
)

// Configure задаёт настройки для логгеров, создаваемых после вызова
func Configure(o Options) {
	optsMu.Lock()
	options = o
	optsMu.Unlock()
}

func currentOptions() Options {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return options
}

// Logger логгер компонента: консоль и (если настроен каталог) отдельный файл
type Logger struct {
	mu              sync.Mutex
	component       string
	consoleLogger   *log.Logger
	fileLogger      *log.Logger
	file            *os.File
	minConsoleLevel LogLevel
	minFileLevel    LogLevel
}

// NewLogger создает логгер компонента согласно текущим Options
func NewLogger(component string) (*Logger, error) {
	o := currentOptions()
	l := &Logger{
		component:       component,
		consoleLogger:   log.New(os.Stdout, "", log.LstdFlags),
		minConsoleLevel: o.ConsoleLevel,
		minFileLevel:    o.FileLevel,
	}
	if o.Dir == "" {
		return l, nil
	}

	// Создаем директорию для логов
	if err := os.MkdirAll(o.Dir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории %s: %w", o.Dir, err)
	}

	// Создаем файл для логов с временной меткой
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	name := component
	if name == "" {
		name = "server"
	}
	filename := filepath.Join(o.Dir, fmt.Sprintf("%s_%s.log", name, timestamp))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания файла логов: %w", err)
	}
	l.file = file
	l.fileLogger = log.New(file, "", log.LstdFlags)
	return l, nil
}

// NewWriterLogger логгер, пишущий в произвольный writer (тесты, CLI)
func NewWriterLogger(component string, w io.Writer, level LogLevel) *Logger {
	return &Logger{
		component:       component,
		consoleLogger:   log.New(w, "", log.LstdFlags),
		minConsoleLevel: level,
		minFileLevel:    ERROR,
	}
}

// SetLevels меняет минимальные уровни логгера
func (l *Logger) SetLevels(console, file LogLevel) {
	l.mu.Lock()
	l.minConsoleLevel = console
	l.minFileLevel = file
	l.mu.Unlock()
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

func (l *Logger) Trace(format string, args ...interface{}) { l.logf(TRACE, format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.logf(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.logf(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.logf(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.logf(ERROR, format, args...) }

func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.minConsoleLevel && (l.fileLogger == nil || level < l.minFileLevel) {
		return
	}

	var message string
	if l.component != "" {
		message = fmt.Sprintf("[%s] [%s] %s", level.String(), l.component, fmt.Sprintf(format, args...))
	} else {
		message = fmt.Sprintf("[%s] %s", level.String(), fmt.Sprintf(format, args...))
	}

	if l.fileLogger != nil && level >= l.minFileLevel {
		l.fileLogger.Println(message)
	}
	if level >= l.minConsoleLevel {
		l.consoleLogger.Println(message)
	}
}

// Логгер по умолчанию; до InitDefaultLogger пишет только в консоль
var (
	defaultMu     sync.RWMutex
	defaultLogger = NewWriterLogger("", os.Stdout, INFO)
)

// InitDefaultLogger пересоздает логгер по умолчанию согласно Options
func InitDefaultLogger() error {
	l, err := NewLogger("")
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	return nil
}

// CloseDefaultLogger закрывает файл логгера по умолчанию
func CloseDefaultLogger() {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	_ = l.Close()
}

func getDefault() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

func Trace(format string, args ...interface{}) { getDefault().Trace(format, args...) }
func Debug(format string, args ...interface{}) { getDefault().Debug(format, args...) }
func Info(format string, args ...interface{})  { getDefault().Info(format, args...) }
func Warn(format string, args ...interface{})  { getDefault().Warn(format, args...) }
func Error(format string, args ...interface{}) { getDefault().Error(format, args...) }
