package logger

import (
	"log/slog"
	"strings"
	"sync"
)

// Registry holds per-module log levels. It is constructed explicitly and
// handed to NewCentralLogger; there is no package-level instance.
type Registry struct {
	mu           sync.RWMutex
	defaultLevel slog.Level
	levels       map[string]slog.Level
}

// NewRegistry creates a registry whose unknown modules log at defaultLevel.
func NewRegistry(defaultLevel LogLevel) *Registry {
	return &Registry{
		defaultLevel: parseSlogLevel(defaultLevel),
		levels:       make(map[string]slog.Level),
	}
}

// SetLevel overrides the level of a module and its sub-modules.
func (r *Registry) SetLevel(module string, level LogLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels[module] = parseSlogLevel(level)
}

// SetDefaultLevel changes the level used for modules without an override.
func (r *Registry) SetDefaultLevel(level LogLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultLevel = parseSlogLevel(level)
}

// Level resolves the effective level of a module. "host.reporter" falls
// back to "host" before the default.
func (r *Registry) Level(module string) slog.Level {
	if r == nil {
		return slog.LevelInfo
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	name := module
	for name != "" {
		if lvl, ok := r.levels[name]; ok {
			return lvl
		}
		idx := strings.LastIndexByte(name, '.')
		if idx < 0 {
			break
		}
		name = name[:idx]
	}
	return r.defaultLevel
}

// Modules returns the modules that carry an explicit override.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.levels))
	for name := range r.levels {
		out = append(out, name)
	}
	return out
}

// parseSlogLevel converts LogLevel to slog.Level
func parseSlogLevel(level LogLevel) slog.Level {
	switch LogLevel(strings.ToLower(string(level))) {
	case LogLevelTrace:
		return traceLevelValue
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether level names a known log level.
func ValidLevel(level string) bool {
	switch LogLevel(strings.ToLower(level)) {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}
