package format

import (
	"encoding/binary"
	"errors"
	"testing"

	dberrors "github.com/FocuswithJustin/dbwatch/core/errors"
)

// testHeader returns a well-formed 100-byte header.
func testHeader(pageSize uint16) []byte {
	data := make([]byte, HeaderSize)
	copy(data, MagicString)
	binary.BigEndian.PutUint16(data[OffsetPageSize:], pageSize)
	data[OffsetWriteVersion] = 1
	data[OffsetReadVersion] = 1
	data[OffsetMaxPayloadFrac] = 64
	data[OffsetMinPayloadFrac] = 32
	data[OffsetLeafPayloadFrac] = 32
	binary.BigEndian.PutUint32(data[OffsetFileChangeCounter:], 9)
	binary.BigEndian.PutUint32(data[OffsetDatabaseSize:], 12)
	binary.BigEndian.PutUint32(data[OffsetFirstFreelist:], 5)
	binary.BigEndian.PutUint32(data[OffsetFreelistCount:], 2)
	binary.BigEndian.PutUint32(data[OffsetSchemaCookie:], 4)
	binary.BigEndian.PutUint32(data[OffsetSchemaFormat:], 4)
	binary.BigEndian.PutUint32(data[OffsetDefaultCacheSize:], 2000)
	binary.BigEndian.PutUint32(data[OffsetLargestRootPage:], 0)
	binary.BigEndian.PutUint32(data[OffsetTextEncoding:], EncodingUTF8)
	binary.BigEndian.PutUint32(data[OffsetUserVersion:], 7)
	binary.BigEndian.PutUint32(data[OffsetIncrVacuum:], 0)
	binary.BigEndian.PutUint32(data[OffsetAppID:], 0x12345678)
	binary.BigEndian.PutUint32(data[OffsetVersionValidFor:], 9)
	binary.BigEndian.PutUint32(data[OffsetSQLiteVersion:], 3045001)
	return data
}

func TestConstants(t *testing.T) {
	if HeaderSize != 100 {
		t.Errorf("HeaderSize = %d, want 100", HeaderSize)
	}
	if len(MagicString) != 16 {
		t.Errorf("MagicString length = %d, want 16", len(MagicString))
	}
	if PageTypeInteriorIndex != 0x02 || PageTypeInteriorTable != 0x05 ||
		PageTypeLeafIndex != 0x0a || PageTypeLeafTable != 0x0d {
		t.Error("page type constants do not match the file format")
	}
}

func TestDecodeMetadata(t *testing.T) {
	m, err := DecodeMetadata(testHeader(4096))
	if err != nil {
		t.Fatalf("DecodeMetadata() error = %v", err)
	}

	checks := []struct {
		name string
		got  uint64
		want uint64
	}{
		{"PageSize", uint64(m.PageSize), 4096},
		{"WriteVersion", uint64(m.WriteVersion), 1},
		{"ReadVersion", uint64(m.ReadVersion), 1},
		{"MaxPayloadFrac", uint64(m.MaxPayloadFrac), 64},
		{"MinPayloadFrac", uint64(m.MinPayloadFrac), 32},
		{"LeafPayloadFrac", uint64(m.LeafPayloadFrac), 32},
		{"FileChangeCounter", uint64(m.FileChangeCounter), 9},
		{"DatabaseSize", uint64(m.DatabaseSize), 12},
		{"FirstFreelist", uint64(m.FirstFreelist), 5},
		{"FreelistCount", uint64(m.FreelistCount), 2},
		{"SchemaCookie", uint64(m.SchemaCookie), 4},
		{"SchemaFormat", uint64(m.SchemaFormat), 4},
		{"DefaultCacheSize", uint64(m.DefaultCacheSize), 2000},
		{"TextEncoding", uint64(m.TextEncoding), EncodingUTF8},
		{"UserVersion", uint64(m.UserVersion), 7},
		{"AppID", uint64(m.AppID), 0x12345678},
		{"VersionValidFor", uint64(m.VersionValidFor), 9},
		{"SQLiteVersion", uint64(m.SQLiteVersion), 3045001},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}

	if err := m.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if m.UsableSize() != 4096 {
		t.Errorf("UsableSize() = %d, want 4096", m.UsableSize())
	}
}

func TestDecodeMetadataPageSize65536(t *testing.T) {
	m, err := DecodeMetadata(testHeader(1))
	if err != nil {
		t.Fatalf("DecodeMetadata() error = %v", err)
	}
	if m.PageSize != MaxPageSize {
		t.Errorf("PageSize = %d, want %d", m.PageSize, MaxPageSize)
	}
}

func TestDecodeMetadataBadMagic(t *testing.T) {
	for i := 0; i < 16; i++ {
		data := testHeader(4096)
		data[i] ^= 0xff

		m, err := DecodeMetadata(data)
		if !errors.Is(err, dberrors.ErrBadMagic) {
			t.Errorf("byte %d altered: error = %v, want ErrBadMagic", i, err)
		}
		if m != (Metadata{}) {
			t.Errorf("byte %d altered: partial metadata returned: %+v", i, m)
		}
	}
}

func TestDecodeMetadataTruncated(t *testing.T) {
	_, err := DecodeMetadata(testHeader(4096)[:50])
	if !errors.Is(err, dberrors.ErrTruncated) {
		t.Errorf("error = %v, want ErrTruncated", err)
	}
}

func TestDecodeMetadataShortFileBadMagic(t *testing.T) {
	_, err := DecodeMetadata([]byte("not a database at all"))
	if !errors.Is(err, dberrors.ErrBadMagic) {
		t.Errorf("error = %v, want ErrBadMagic", err)
	}
}

func TestReservedSpanIgnored(t *testing.T) {
	a := testHeader(4096)
	b := testHeader(4096)
	for i := OffsetReserved; i < OffsetVersionValidFor; i++ {
		b[i] = 0xAA
	}
	ma, _ := DecodeMetadata(a)
	mb, _ := DecodeMetadata(b)
	if ma != mb {
		t.Errorf("reserved bytes changed decoded metadata: %+v vs %+v", ma, mb)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Metadata)
		wantErr bool
	}{
		{"valid", func(*Metadata) {}, false},
		{"page size not power of two", func(m *Metadata) { m.PageSize = 1000 }, true},
		{"page size too small", func(m *Metadata) { m.PageSize = 256 }, true},
		{"bad encoding", func(m *Metadata) { m.TextEncoding = 9 }, true},
		{"unset encoding", func(m *Metadata) { m.TextEncoding = 0 }, false},
		{"reserved eats the page", func(m *Metadata) { m.PageSize = 512; m.ReservedSpace = 40 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := DecodeMetadata(testHeader(4096))
			tt.mutate(&m)
			err := m.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, dberrors.ErrCorrupt) {
				t.Errorf("Validate() error = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestIsValidPageSize(t *testing.T) {
	valid := []int{512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}
	for _, size := range valid {
		if !IsValidPageSize(size) {
			t.Errorf("IsValidPageSize(%d) = false, want true", size)
		}
	}
	invalid := []int{0, 1, 256, 511, 513, 4095, 65537, 131072}
	for _, size := range invalid {
		if IsValidPageSize(size) {
			t.Errorf("IsValidPageSize(%d) = true, want false", size)
		}
	}
}

func TestEncodingName(t *testing.T) {
	tests := []struct {
		enc  uint32
		want string
	}{
		{0, "UTF-8"},
		{EncodingUTF8, "UTF-8"},
		{EncodingUTF16LE, "UTF-16le"},
		{EncodingUTF16BE, "UTF-16be"},
	}
	for _, tt := range tests {
		m := Metadata{TextEncoding: tt.enc}
		if got := m.EncodingName(); got != tt.want {
			t.Errorf("EncodingName(%d) = %q, want %q", tt.enc, got, tt.want)
		}
	}
}
