package btree

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/FocuswithJustin/dbwatch/core/sqlite/internal/format"
)

// ColumnKind is the storage class of a decoded column value.
type ColumnKind int

const (
	KindNull ColumnKind = iota
	KindInt
	KindFloat
	KindBlob
	KindText
)

// Column is one decoded value of a record.
type Column struct {
	Kind  ColumnKind
	Int   int64
	Float float64
	Blob  []byte
	Text  string
}

// maxSerialType bounds blob and text serial types to payloads under 2 GiB.
const maxSerialType = 13 + 2*math.MaxInt32

// previewSeparator joins the column previews of one slot.
const previewSeparator = "|"

// Preview renders the column the way it is shown in cell previews.
func (c Column) Preview() string {
	switch c.Kind {
	case KindInt:
		return strconv.FormatInt(c.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(c.Float, 'g', -1, 64)
	case KindBlob:
		return "x'" + strings.ToUpper(hex.EncodeToString(c.Blob)) + "'"
	case KindText:
		return c.Text
	default:
		return "NULL"
	}
}

// Record is a decoded serialized row.
type Record struct {
	SerialTypes []uint64
	Columns     []Column
}

// Preview joins the column previews of the record.
func (r *Record) Preview() string {
	parts := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		parts[i] = c.Preview()
	}
	return strings.Join(parts, previewSeparator)
}

// FirstInt returns the first integer column, if any.
func (r *Record) FirstInt() (int64, bool) {
	for _, c := range r.Columns {
		if c.Kind == KindInt {
			return c.Int, true
		}
	}
	return 0, false
}

// SerialTypeSize returns the number of body bytes used by a serial type.
func SerialTypeSize(t uint64) (int, error) {
	switch {
	case t == 0, t == 8, t == 9:
		return 0, nil
	case t >= 1 && t <= 4:
		return int(t), nil
	case t == 5:
		return 6, nil
	case t == 6, t == 7:
		return 8, nil
	case t == 10, t == 11:
		return 0, fmt.Errorf("reserved serial type %d", t)
	case t > maxSerialType:
		return 0, fmt.Errorf("serial type %d exceeds any payload", t)
	case t%2 == 0:
		return int((t - 12) / 2), nil
	default:
		return int((t - 13) / 2), nil
	}
}

// DecodeRecord decodes a complete record payload: a varint header length,
// the serial type codes, then one value per serial type. Text is decoded
// according to the database text encoding.
func DecodeRecord(payload []byte, encoding uint32) (*Record, error) {
	headerLen, n := GetVarint(payload)
	if n == 0 {
		return nil, fmt.Errorf("record header length truncated")
	}
	if headerLen < uint64(n) || headerLen > uint64(len(payload)) {
		return nil, fmt.Errorf("record header length %d out of range (payload %d bytes)", headerLen, len(payload))
	}

	rec := &Record{}
	pos := n
	for pos < int(headerLen) {
		t, m := GetVarint(payload[pos:int(headerLen)])
		if m == 0 {
			return nil, fmt.Errorf("serial type truncated at header byte %d", pos)
		}
		rec.SerialTypes = append(rec.SerialTypes, t)
		pos += m
	}

	body := int(headerLen)
	rec.Columns = make([]Column, len(rec.SerialTypes))
	for i, t := range rec.SerialTypes {
		size, err := SerialTypeSize(t)
		if err != nil {
			return nil, err
		}
		if body+size > len(payload) {
			return nil, fmt.Errorf("column %d overruns record body", i)
		}
		col, err := decodeColumn(t, payload[body:body+size], encoding)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		rec.Columns[i] = col
		body += size
	}

	return rec, nil
}

func decodeColumn(t uint64, b []byte, encoding uint32) (Column, error) {
	switch {
	case t == 0:
		return Column{Kind: KindNull}, nil
	case t >= 1 && t <= 6:
		return Column{Kind: KindInt, Int: bigEndianSigned(b)}, nil
	case t == 7:
		return Column{Kind: KindFloat, Float: math.Float64frombits(binary.BigEndian.Uint64(b))}, nil
	case t == 8:
		return Column{Kind: KindInt, Int: 0}, nil
	case t == 9:
		return Column{Kind: KindInt, Int: 1}, nil
	case t%2 == 0:
		blob := make([]byte, len(b))
		copy(blob, b)
		return Column{Kind: KindBlob, Blob: blob}, nil
	default:
		text, err := decodeText(b, encoding)
		if err != nil {
			return Column{}, err
		}
		return Column{Kind: KindText, Text: text}, nil
	}
}

// bigEndianSigned decodes a 1 to 8 byte two's complement big-endian integer.
func bigEndianSigned(b []byte) int64 {
	var u uint64
	for _, c := range b {
		u = u<<8 | uint64(c)
	}
	shift := uint(64 - 8*len(b))
	return int64(u<<shift) >> shift
}

func decodeText(b []byte, encoding uint32) (string, error) {
	var endian unicode.Endianness
	switch encoding {
	case format.EncodingUTF16LE:
		endian = unicode.LittleEndian
	case format.EncodingUTF16BE:
		endian = unicode.BigEndian
	default:
		return string(b), nil
	}
	out, err := unicode.UTF16(endian, unicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode UTF-16 text: %w", err)
	}
	return string(out), nil
}
