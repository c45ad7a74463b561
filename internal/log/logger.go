package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is a slog.Logger bound to one component. The component is attached
// as an attribute once, when the logger is built, so every record carries it.
type Logger struct {
	*slog.Logger
	component string
	// root is Logger without the component attribute.
	root *slog.Logger
}

// Config holds logger configuration
type Config struct {
	Level     slog.Level
	Component string
	// Handler overrides the default text handler on stdout.
	Handler slog.Handler
}

// New creates a new logger with the given configuration
func New(config Config) *Logger {
	handler := config.Handler
	if handler == nil {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: config.Level})
	}
	root := slog.New(handler)
	l := &Logger{Logger: root, root: root}
	return l.WithComponent(config.Component)
}

// With returns a logger carrying args, keeping the component.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(args...),
		component: l.component,
		root:      l.root.With(args...),
	}
}

// WithComponent returns a logger for another component. Attributes added
// with With are kept.
func (l *Logger) WithComponent(component string) *Logger {
	if component == "" {
		return &Logger{Logger: l.root, root: l.root}
	}
	return &Logger{
		Logger:    l.root.With(FieldComponent, component),
		component: component,
		root:      l.root,
	}
}

// Component returns the logger's component name
func (l *Logger) Component() string {
	return l.component
}

// SetDefault sets the default logger for the application
func SetDefault(logger *Logger) {
	slog.SetDefault(logger.Logger)
}

// ParseLevel maps LOG_LEVEL values to slog levels, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops every record. Used by tests.
func Discard() *Logger {
	return New(Config{Component: "test", Handler: slog.NewTextHandler(io.Discard, nil)})
}
