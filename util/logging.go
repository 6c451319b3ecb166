// Package util holds small helpers shared across the log engine packages:
// named leveled loggers, id generation, config parsing, and durability
// primitives (see fsutil.go and its OS-specific companions).
package util

import (
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	rootOnce sync.Once
	root     hclog.Logger
)

// Root returns the process-wide base logger. Components derive a named
// child from it with Named so log lines read e.g. "[INFO]  raftlog.compactor: ...".
func Root() hclog.Logger {
	rootOnce.Do(func() {
		root = hclog.New(&hclog.LoggerOptions{
			Name:            "raftlog",
			Level:           levelFromEnv(),
			Output:          os.Stderr,
			IncludeLocation: false,
		})
	})
	return root
}

// Named returns a child logger scoped to one component, e.g. Named("segment").
func Named(component string) hclog.Logger {
	return Root().Named(component)
}

// SetLevel adjusts the root logger's level; components created via Named
// before or after the call observe it immediately since hclog loggers
// share the level of their parent unless independently set.
func SetLevel(level hclog.Level) {
	Root().SetLevel(level)
}

// LevelFromString parses a level name ("debug", "info", ...) the way
// config loaders accept it from flags or YAML.
func LevelFromString(s string) hclog.Level {
	return hclog.LevelFromString(s)
}

func levelFromEnv() hclog.Level {
	if v := os.Getenv("RAFTLOG_LOG_LEVEL"); v != "" {
		return hclog.LevelFromString(v)
	}
	return hclog.Info
}
