// Package logx provides per-component leveled logging on top of
// charmbracelet/log, mirroring the subsystem-prefixed log lines the
// teacher server writes for each of its workers (e.g. "[decoder] ...").
package logx

import (
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	root = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
	})

	mu   sync.Mutex
	subs = map[string]*log.Logger{}
)

// SetLevel adjusts the root logger's level; sub-loggers share it.
func SetLevel(level log.Level) {
	root.SetLevel(level)
}

// SetLevelName parses name ("debug", "info", "warn", "error") and applies
// it via SetLevel; an unrecognized name is ignored, leaving the level
// unchanged, since a bad config value shouldn't abort startup.
func SetLevelName(name string) {
	lvl, err := log.ParseLevel(name)
	if err != nil {
		return
	}
	SetLevel(lvl)
}

// For returns a named sub-logger for a component, e.g. For("radio-decoder").
// The same name always returns the same underlying logger instance.
func For(component string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := subs[component]; ok {
		return l
	}
	l := root.WithPrefix(component)
	subs[component] = l
	return l
}
