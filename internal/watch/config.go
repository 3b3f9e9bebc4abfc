package watch

import (
	"errors"
	"fmt"
	"time"

	"github.com/FocuswithJustin/dbwatch/core/sqlite"
	"github.com/FocuswithJustin/dbwatch/internal/validation"
)

// Config holds watcher configuration.
type Config struct {
	// Path is the database file to watch.
	Path string

	// Interval is the time between polls of the file's modification time.
	Interval time.Duration

	// CacheSize is the page cache size, in pages, used for each parse.
	CacheSize int

	// ArchiveDir, when set, receives a copy of every decoded version.
	ArchiveDir string
}

// DefaultConfig returns the default watcher configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  time.Second,
		CacheSize: sqlite.DefaultCacheSize,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validation.ValidatePath(c.Path); err != nil {
		return fmt.Errorf("invalid watch path: %w", err)
	}
	if c.Interval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.CacheSize < 0 {
		return errors.New("cache size cannot be negative")
	}
	return nil
}
