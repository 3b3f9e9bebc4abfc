package btree

// Variable-length integer encoding/decoding (SQLite format)
//
// - Lower 7 bits of each byte are used for data
// - High bit (0x80) set on all bytes except the last
// - Most significant byte first (big-endian)
// - Maximum of 9 bytes (last byte uses all 8 bits)

// MaxVarintLen is the longest encoding of a 64-bit varint.
const MaxVarintLen = 9

// PutVarint writes a 64-bit unsigned integer to p and returns the number of bytes written.
// p must have room for VarintLen(v) bytes.
func PutVarint(p []byte, v uint64) int {
	if v <= 0x7f {
		p[0] = byte(v & 0x7f)
		return 1
	}
	if v <= 0x3fff {
		p[0] = byte((v>>7)&0x7f) | 0x80
		p[1] = byte(v & 0x7f)
		return 2
	}
	return putVarint64(p, v)
}

// putVarint64 handles the general case of encoding a 64-bit varint
func putVarint64(p []byte, v uint64) int {
	if v&(uint64(0xff000000)<<32) != 0 {
		// 9-byte case: all 8 bits of the 9th byte are used
		p[8] = byte(v)
		v >>= 8
		for i := 7; i >= 0; i-- {
			p[i] = byte((v & 0x7f) | 0x80)
			v >>= 7
		}
		return 9
	}

	n := VarintLen(v)
	for i := n - 1; i >= 0; i-- {
		shift := uint(i * 7)
		b := byte((v >> shift) & 0x7f)
		if i > 0 {
			b |= 0x80
		}
		p[n-1-i] = b
	}
	return n
}

// GetVarint reads a variable-length integer from p and returns the value and
// the number of bytes consumed (1..9). Reading stops at the first byte with a
// clear high bit or at the ninth byte, which always contributes all 8 bits.
// A count of 0 means p ended before the varint did.
func GetVarint(p []byte) (uint64, int) {
	if len(p) > 0 && p[0] < 0x80 {
		return uint64(p[0]), 1
	}

	var v uint64
	for i := 0; i < MaxVarintLen; i++ {
		if i >= len(p) {
			return 0, 0
		}
		if i == MaxVarintLen-1 {
			return (v << 8) | uint64(p[i]), MaxVarintLen
		}
		v = (v << 7) | uint64(p[i]&0x7f)
		if p[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	return v, MaxVarintLen
}

// GetVarintInt64 is GetVarint with the value reinterpreted as a signed integer,
// which is how row IDs are stored.
func GetVarintInt64(p []byte) (int64, int) {
	v, n := GetVarint(p)
	return int64(v), n
}

// VarintLen returns the number of bytes required to encode v as a varint
func VarintLen(v uint64) int {
	switch {
	case v <= 0x7f:
		return 1
	case v <= 0x3fff:
		return 2
	case v <= 0x1fffff:
		return 3
	case v <= 0xfffffff:
		return 4
	case v <= 0x7ffffffff:
		return 5
	case v <= 0x3ffffffffff:
		return 6
	case v <= 0x1ffffffffffff:
		return 7
	case v <= 0xffffffffffffff:
		return 8
	default:
		return 9
	}
}
