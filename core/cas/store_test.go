package cas

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zeebo/blake3"
)

var archivedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestDigest(t *testing.T) {
	data := []byte("SQLite format 3\x00")
	want := blake3.Sum256(data)

	if got := Digest(data); got != hex.EncodeToString(want[:]) {
		t.Errorf("Digest() = %s, want %s", got, hex.EncodeToString(want[:]))
	}

	got, err := DigestReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DigestReader() error = %v", err)
	}
	if got != Digest(data) {
		t.Errorf("DigestReader() = %s, want %s", got, Digest(data))
	}
}

func TestDigestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.db")
	data := bytes.Repeat([]byte{0xAB}, 100000)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := DigestFile(path)
	if err != nil {
		t.Fatalf("DigestFile() error = %v", err)
	}
	if got != Digest(data) {
		t.Errorf("DigestFile() = %s, want %s", got, Digest(data))
	}

	if _, err := DigestFile(filepath.Join(t.TempDir(), "missing.db")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("DigestFile(missing) error = %v, want ErrNotExist", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestDigestReaderError(t *testing.T) {
	if _, err := DigestReader(failingReader{}); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("DigestReader() error = %v, want ErrClosedPipe", err)
	}
}

// TestArchiveAndRetrieve tests that archiving returns the BLAKE3 digest and
// that retrieving returns the exact same bytes.
func TestArchiveAndRetrieve(t *testing.T) {
	store := newTestStore(t)
	data := []byte("database image v1")

	v, err := store.Archive(data, "/tmp/app.db", archivedAt)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	sum := sha256.Sum256(data)
	if v.Digest != Digest(data) {
		t.Errorf("Digest = %s, want %s", v.Digest, Digest(data))
	}
	if v.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("SHA256 = %s, want %s", v.SHA256, hex.EncodeToString(sum[:]))
	}
	if v.Size != int64(len(data)) || v.Source != "/tmp/app.db" || !v.ArchivedAt.Equal(archivedAt) {
		t.Errorf("Version = %+v", v)
	}

	got, err := store.Retrieve(v.Digest)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Retrieve() = %q, want %q", got, data)
	}

	if !store.Exists(v.Digest) {
		t.Error("Exists() = false after Archive")
	}
}

// TestArchiveDuplicate tests that archiving the same content twice keeps the
// first record.
func TestArchiveDuplicate(t *testing.T) {
	store := newTestStore(t)
	data := []byte("same bytes")

	v1, err := store.Archive(data, "first.db", archivedAt)
	if err != nil {
		t.Fatalf("first Archive() error = %v", err)
	}
	v2, err := store.Archive(data, "second.db", archivedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("second Archive() error = %v", err)
	}

	if v1.Digest != v2.Digest || v2.Source != "first.db" {
		t.Errorf("duplicate archive = %+v, want the first record %+v", v2, v1)
	}

	versions, err := store.Versions()
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if len(versions) != 1 {
		t.Errorf("len(Versions()) = %d, want 1", len(versions))
	}
}

func TestArchiveFile(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(t.TempDir(), "watched.db")
	if err := os.WriteFile(path, []byte("on disk"), 0o600); err != nil {
		t.Fatal(err)
	}

	v, err := store.ArchiveFile(path, archivedAt)
	if err != nil {
		t.Fatalf("ArchiveFile() error = %v", err)
	}
	if v.Source != path {
		t.Errorf("Source = %q, want %q", v.Source, path)
	}

	p, err := store.Path(v.Digest)
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	onDisk, err := os.ReadFile(p)
	if err != nil || string(onDisk) != "on disk" {
		t.Errorf("archived file = %q, %v", onDisk, err)
	}

	if _, err := store.ArchiveFile(filepath.Join(t.TempDir(), "missing.db"), archivedAt); err == nil {
		t.Error("ArchiveFile(missing) expected error")
	}
}

func TestVersionsOrdered(t *testing.T) {
	store := newTestStore(t)
	for i, s := range []string{"c", "a", "b"} {
		if _, err := store.Archive([]byte(s), s, archivedAt.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Archive(%s) error = %v", s, err)
		}
	}

	versions, err := store.Versions()
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	var order []string
	for _, v := range versions {
		order = append(order, v.Source)
	}
	if strings.Join(order, ",") != "c,a,b" {
		t.Errorf("Versions() order = %v, want [c a b]", order)
	}
}

func TestLookupErrors(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name   string
		digest string
		want   error
	}{
		{"empty", "", ErrInvalidDigest},
		{"short", "abc123", ErrInvalidDigest},
		{"uppercase", strings.Repeat("A", 64), ErrInvalidDigest},
		{"path traversal", "../" + strings.Repeat("a", 61), ErrInvalidDigest},
		{"not archived", strings.Repeat("a", 64), ErrVersionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Lookup(tt.digest); !errors.Is(err, tt.want) {
				t.Errorf("Lookup() error = %v, want %v", err, tt.want)
			}
			if _, err := store.Retrieve(tt.digest); !errors.Is(err, tt.want) {
				t.Errorf("Retrieve() error = %v, want %v", err, tt.want)
			}
			if _, err := store.Path(tt.digest); !errors.Is(err, tt.want) {
				t.Errorf("Path() error = %v, want %v", err, tt.want)
			}
			if store.Exists(tt.digest) {
				t.Error("Exists() = true")
			}
		})
	}
}

func TestRetrieveChecksumMismatch(t *testing.T) {
	store := newTestStore(t)
	v, err := store.Archive([]byte("original"), "", archivedAt)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	if err := os.WriteFile(store.blobPath(v.Digest), []byte("tampered"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Retrieve(v.Digest); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Retrieve() error = %v, want ErrChecksumMismatch", err)
	}
}

func TestRetrieveMissingBlob(t *testing.T) {
	store := newTestStore(t)
	v, err := store.Archive([]byte("x"), "", archivedAt)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	os.Remove(store.blobPath(v.Digest))

	if _, err := store.Retrieve(v.Digest); !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("Retrieve() error = %v, want ErrVersionNotFound", err)
	}
}

func TestLookupUnmarshalError(t *testing.T) {
	store := newTestStore(t)
	v, err := store.Archive([]byte("x"), "", archivedAt)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if err := os.WriteFile(store.recordPath(v.Digest), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Lookup(v.Digest); err == nil || !strings.Contains(err.Error(), "failed to parse version record") {
		t.Errorf("Lookup() error = %v, want parse failure", err)
	}
}

// TestNewStoreMkdirError tests NewStore when the root is a regular file.
func TestNewStoreMkdirError(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(root, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(root); err == nil {
		t.Error("NewStore() expected error when root is a file")
	}
}

func TestArchiveWriteErrors(t *testing.T) {
	tests := []struct {
		name    string
		install func() func()
		want    string
	}{
		{
			name: "write",
			install: func() func() {
				orig := tempFileWrite
				tempFileWrite = func(*os.File, []byte) (int, error) { return 0, errors.New("disk full") }
				return func() { tempFileWrite = orig }
			},
			want: "failed to write temp file",
		},
		{
			name: "close",
			install: func() func() {
				orig := tempFileClose
				tempFileClose = func(f io.Closer) error {
					f.Close()
					return errors.New("close failed")
				}
				return func() { tempFileClose = orig }
			},
			want: "failed to close temp file",
		},
		{
			name: "rename",
			install: func() func() {
				orig := osRename
				osRename = func(string, string) error { return errors.New("rename failed") }
				return func() { osRename = orig }
			},
			want: "failed to rename temp file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			restore := tt.install()
			defer restore()

			_, err := store.Archive([]byte("payload"), "", archivedAt)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Archive() error = %v, want %q", err, tt.want)
			}
			restore()

			if store.Exists(Digest([]byte("payload"))) {
				t.Error("failed archive left a visible version")
			}
			entries, _ := os.ReadDir(store.dirForDigest(Digest([]byte("payload"))))
			for _, e := range entries {
				if strings.HasPrefix(e.Name(), ".version-") {
					t.Errorf("temp file %s left behind", e.Name())
				}
			}
		})
	}
}

func TestResolve(t *testing.T) {
	store := newTestStore(t)
	v, err := store.Archive([]byte("resolve me"), "app.db", archivedAt)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	for _, ref := range []string{v.Digest, v.Digest[:16], v.Digest[:4]} {
		got, err := store.Resolve(ref)
		if err != nil {
			t.Fatalf("Resolve(%s) error = %v", ref, err)
		}
		if got.Digest != v.Digest {
			t.Errorf("Resolve(%s) = %s, want %s", ref, got.Digest, v.Digest)
		}
	}

	other := "0000"
	if strings.HasPrefix(v.Digest, other) {
		other = "ffff"
	}
	tests := []struct {
		name string
		ref  string
		want error
	}{
		{"too short", v.Digest[:3], ErrInvalidDigest},
		{"not hex", "zzzz", ErrInvalidDigest},
		{"no match", other, ErrVersionNotFound},
		{"unknown full digest", strings.Repeat("a", 64), ErrVersionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Resolve(tt.ref); !errors.Is(err, tt.want) {
				t.Errorf("Resolve(%q) error = %v, want %v", tt.ref, err, tt.want)
			}
		})
	}
}

func TestResolveAmbiguous(t *testing.T) {
	store := newTestStore(t)
	// Two records whose digests share an 8 character prefix.
	for _, d := range []string{
		"abcd1234" + strings.Repeat("0", 56),
		"abcd1234" + strings.Repeat("1", 56),
	} {
		if err := os.MkdirAll(store.dirForDigest(d), 0o755); err != nil {
			t.Fatal(err)
		}
		record := fmt.Sprintf(`{"digest":%q,"size":1,"archived_at":"2024-03-01T12:00:00Z"}`, d)
		if err := os.WriteFile(store.recordPath(d), []byte(record), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := store.Resolve("abcd1234"); !errors.Is(err, ErrAmbiguousDigest) {
		t.Errorf("Resolve() error = %v, want ErrAmbiguousDigest", err)
	}
	v, err := store.Resolve("abcd12341")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !strings.HasSuffix(v.Digest, "1111") {
		t.Errorf("Resolve() = %s", v.Digest)
	}
}
