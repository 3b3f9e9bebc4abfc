// Package cas provides content-addressed storage for database versions.
// Every archived version is keyed by its BLAKE3 fingerprint and carries a
// SHA-256 checksum that is verified on retrieval.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// osRename is a variable to allow testing of rename errors.
var osRename = os.Rename

// tempFileWrite is a function variable for writing to temp files (for testing).
var tempFileWrite = func(f *os.File, data []byte) (int, error) {
	return f.Write(data)
}

// tempFileClose is a function variable for closing temp files (for testing).
var tempFileClose = func(f io.Closer) error {
	return f.Close()
}

// ErrVersionNotFound is returned when no version with the given digest exists.
var ErrVersionNotFound = errors.New("version not found")

// ErrInvalidDigest is returned when a digest string is not a 64 character
// lowercase hex string.
var ErrInvalidDigest = errors.New("invalid digest format")

// ErrChecksumMismatch is returned when archived bytes no longer match the
// checksum recorded when they were stored.
var ErrChecksumMismatch = errors.New("archived version checksum mismatch")

// ErrAmbiguousDigest is returned when a digest prefix matches more than one
// archived version.
var ErrAmbiguousDigest = errors.New("ambiguous digest prefix")

// prefixPattern matches a lowercase hex digest prefix.
var prefixPattern = regexp.MustCompile(`^[a-f0-9]{4,64}$`)

// digestPattern matches a valid lowercase 256-bit hex digest.
var digestPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

const (
	versionsDir   = "versions"
	blobSuffix    = ".db"
	versionSuffix = ".json"
)

// Version describes one archived database image.
type Version struct {
	Digest     string    `json:"digest"`
	SHA256     string    `json:"sha256"`
	Size       int64     `json:"size"`
	Source     string    `json:"source,omitempty"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Store archives database versions by content.
type Store struct {
	root string
}

// NewStore creates a new version store at the given root directory.
// The directory structure will be created if it doesn't exist.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, versionsDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create versions directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Archive stores a database image and returns its version record. Archiving
// identical content again is a no-op that returns the existing record.
func (s *Store) Archive(data []byte, source string, at time.Time) (*Version, error) {
	digest := Digest(data)
	if v, err := s.Lookup(digest); err == nil {
		return v, nil
	}

	dir := s.dirForDigest(digest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create prefix directory: %w", err)
	}

	sum := sha256.Sum256(data)
	v := &Version{
		Digest:     digest,
		SHA256:     hex.EncodeToString(sum[:]),
		Size:       int64(len(data)),
		Source:     source,
		ArchivedAt: at.UTC(),
	}

	if err := writeAtomic(dir, s.blobPath(digest), data); err != nil {
		return nil, fmt.Errorf("failed to write version: %w", err)
	}

	record, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal version: %w", err)
	}
	// The record is written last: a version without one is not visible.
	if err := writeAtomic(dir, s.recordPath(digest), record); err != nil {
		return nil, fmt.Errorf("failed to write version record: %w", err)
	}

	return v, nil
}

// ArchiveFile archives the current contents of a database file.
func (s *Store) ArchiveFile(path string, at time.Time) (*Version, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return s.Archive(data, path, at)
}

// Lookup returns the version record for a digest.
func (s *Store) Lookup(digest string) (*Version, error) {
	if !isValidDigest(digest) {
		return nil, ErrInvalidDigest
	}

	data, err := os.ReadFile(s.recordPath(digest))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("failed to read version record: %w", err)
	}

	var v Version
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse version record: %w", err)
	}
	return &v, nil
}

// Retrieve returns the archived bytes of a version after verifying them
// against the recorded checksum.
func (s *Store) Retrieve(digest string) ([]byte, error) {
	v, err := s.Lookup(digest)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.blobPath(digest))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("failed to read version: %w", err)
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != v.SHA256 {
		return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, digest)
	}
	return data, nil
}

// Resolve finds the version whose digest is or starts with ref. Prefixes
// must be at least 4 hex characters, as printed by version listings.
func (s *Store) Resolve(ref string) (*Version, error) {
	if isValidDigest(ref) {
		return s.Lookup(ref)
	}
	if !prefixPattern.MatchString(ref) {
		return nil, ErrInvalidDigest
	}

	versions, err := s.Versions()
	if err != nil {
		return nil, err
	}
	var found *Version
	for i := range versions {
		if !strings.HasPrefix(versions[i].Digest, ref) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %s", ErrAmbiguousDigest, ref)
		}
		found = &versions[i]
	}
	if found == nil {
		return nil, ErrVersionNotFound
	}
	return found, nil
}

// Path returns the file path of an archived version so it can be parsed in
// place.
func (s *Store) Path(digest string) (string, error) {
	if _, err := s.Lookup(digest); err != nil {
		return "", err
	}
	return s.blobPath(digest), nil
}

// Exists checks if a version with the given digest exists in the store.
func (s *Store) Exists(digest string) bool {
	_, err := s.Lookup(digest)
	return err == nil
}

// Versions lists all archived versions, oldest first.
func (s *Store) Versions() ([]Version, error) {
	var out []Version
	root := filepath.Join(s.root, versionsDir)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, versionSuffix) {
			return nil
		}
		v, err := s.Lookup(strings.TrimSuffix(d.Name(), versionSuffix))
		if err != nil {
			return err
		}
		out = append(out, *v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ArchivedAt.Equal(out[j].ArchivedAt) {
			return out[i].Digest < out[j].Digest
		}
		return out[i].ArchivedAt.Before(out[j].ArchivedAt)
	})
	return out, nil
}

// dirForDigest returns the prefix directory of a digest.
// Versions are stored at: <root>/versions/<first2>/<digest>.{db,json}
func (s *Store) dirForDigest(digest string) string {
	return filepath.Join(s.root, versionsDir, digest[:2])
}

func (s *Store) blobPath(digest string) string {
	return filepath.Join(s.dirForDigest(digest), digest+blobSuffix)
}

func (s *Store) recordPath(digest string) string {
	return filepath.Join(s.dirForDigest(digest), digest+versionSuffix)
}

// writeAtomic writes data to a temp file in dir and renames it into place.
func writeAtomic(dir, path string, data []byte) error {
	tempFile, err := os.CreateTemp(dir, ".version-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	if _, err := tempFileWrite(tempFile, data); err != nil {
		tempFileClose(tempFile)
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tempFileClose(tempFile); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Rename to final path (atomic on POSIX)
	if err := osRename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// isValidDigest checks if a digest string is a valid 256-bit hex string.
func isValidDigest(digest string) bool {
	return digestPattern.MatchString(digest)
}
