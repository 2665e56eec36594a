// Package checksum implements the running message checksum shared by
// senders and validators.
//
// The hash is Paul Hsieh's SuperFastHash with the initial value supplied by
// the caller, so a message checksum is computed by threading the result of
// one frame into the next, starting from zero.
package checksum

import "encoding/binary"

// Size is the wire width of a checksum frame.
const Size = 4

// Hash folds buf into seed and returns the next accumulator value.
// An empty buffer yields 0 regardless of seed.
func Hash(buf []byte, seed uint32) uint32 {
	n := len(buf)
	if n == 0 {
		return 0
	}

	h := seed
	rem := n & 3
	i := 0
	for blocks := n >> 2; blocks > 0; blocks-- {
		h += get16(buf[i:])
		tmp := (get16(buf[i+2:]) << 11) ^ h
		h = (h << 16) ^ tmp
		h += h >> 11
		i += 4
	}

	switch rem {
	case 3:
		h += get16(buf[i:])
		h ^= h << 16
		h ^= uint32(int32(int8(buf[i+2])) << 18)
		h += h >> 11
	case 2:
		h += get16(buf[i:])
		h ^= h << 11
		h += h >> 17
	case 1:
		h += uint32(int32(int8(buf[i])))
		h ^= h << 10
		h += h >> 1
	}

	h ^= h << 3
	h += h >> 5
	h ^= h << 4
	h += h >> 17
	h ^= h << 25
	h += h >> 6
	return h
}

// Fold threads every frame through Hash in order, seeded with 0.
func Fold(frames ...[]byte) uint32 {
	var sum uint32
	for _, f := range frames {
		sum = Hash(f, sum)
	}
	return sum
}

// Encode returns the little-endian checksum frame for sum.
func Encode(sum uint32) []byte {
	out := make([]byte, Size)
	binary.LittleEndian.PutUint32(out, sum)
	return out
}

// Decode reads a checksum frame. ok is false when b is not exactly Size bytes.
func Decode(b []byte) (uint32, bool) {
	if len(b) != Size {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

// Append returns frames followed by their checksum frame.
func Append(frames [][]byte) [][]byte {
	out := make([][]byte, 0, len(frames)+1)
	out = append(out, frames...)
	return append(out, Encode(Fold(frames...)))
}

func get16(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8
}
