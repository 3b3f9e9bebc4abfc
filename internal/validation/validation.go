// Package validation provides input validation for database paths and
// generated filenames, guarding against path injection.
package validation

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Length limits for names and paths.
const (
	// MaxFilenameLength is the maximum allowed filename length.
	MaxFilenameLength = 255
	// MaxPathLength is the maximum allowed path length.
	MaxPathLength = 4096
)

// Common validation errors.
var (
	ErrInvalidFilename  = errors.New("invalid filename")
	ErrPathTooLong      = errors.New("path too long")
	ErrFilenameTooLong  = errors.New("filename too long")
	ErrInvalidCharacter = errors.New("invalid character in path")
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrNotRegularFile   = errors.New("not a regular file")
)

// ValidateFilename checks if a filename is safe and does not contain malicious characters.
// It rejects filenames with path separators, control characters, and dangerous patterns.
func ValidateFilename(filename string) error {
	if filename == "" {
		return ErrInvalidFilename
	}

	if len(filename) > MaxFilenameLength {
		return ErrFilenameTooLong
	}

	if filename == "." || filename == ".." {
		return fmt.Errorf("%w: reserved name", ErrInvalidFilename)
	}

	if strings.ContainsAny(filename, "/\\") {
		return fmt.Errorf("%w: path separator not allowed", ErrInvalidFilename)
	}

	// Check for null bytes (common injection attack)
	if strings.Contains(filename, "\x00") {
		return fmt.Errorf("%w: null byte not allowed", ErrInvalidFilename)
	}

	for _, r := range filename {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidFilename)
		}
	}

	// Reject filenames starting with hyphen (can be confused with command flags)
	if strings.HasPrefix(filename, "-") {
		return fmt.Errorf("%w: filename cannot start with hyphen", ErrInvalidFilename)
	}

	return nil
}

// ValidatePath checks a path for dangerous patterns, length limits, and
// invalid characters. It does not touch the filesystem.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}

	if len(path) > MaxPathLength {
		return ErrPathTooLong
	}

	if strings.Contains(path, "\x00") {
		return fmt.Errorf("%w: null byte not allowed", ErrInvalidCharacter)
	}

	for _, r := range path {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidCharacter)
		}
	}

	return nil
}

// ValidateDatabaseFile validates path and stats it. Any size is accepted:
// pages are read on demand. Filesystem errors are returned unwrapped so
// callers can test them with os.ErrNotExist.
func ValidateDatabaseFile(path string) (os.FileInfo, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}
	return info, nil
}

// SanitizeFilename sanitizes a filename by removing or replacing invalid characters.
// It is used when deriving export filenames from database paths.
func SanitizeFilename(filename string) (string, error) {
	if filename == "" {
		return "", ErrInvalidFilename
	}

	filename = strings.TrimSpace(filename)

	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")

	filename = strings.ReplaceAll(filename, "\x00", "")

	var cleaned strings.Builder
	for _, r := range filename {
		if !unicode.IsControl(r) {
			cleaned.WriteRune(r)
		}
	}
	filename = cleaned.String()

	filename = strings.TrimLeft(filename, "-")

	if err := ValidateFilename(filename); err != nil {
		return "", err
	}

	return filename, nil
}
