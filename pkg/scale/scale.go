// Package scale implements the subset of the SCALE codec needed to build and
// inspect extrinsics: fixed-width little-endian integers, compact integers,
// length-prefixed byte strings, vectors and options.
package scale

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

// ErrShortBuffer is returned when a decoder runs out of input.
var ErrShortBuffer = errors.New("scale: unexpected end of input")

// maxU128 is 2^128 - 1.
var maxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// AppendCompact appends the compact encoding of v to buf.
func AppendCompact(buf []byte, v uint64) []byte {
	switch {
	case v < 1<<6:
		return append(buf, byte(v)<<2)
	case v < 1<<14:
		return binary.LittleEndian.AppendUint16(buf, uint16(v)<<2|0b01)
	case v < 1<<30:
		return binary.LittleEndian.AppendUint32(buf, uint32(v)<<2|0b10)
	}
	return AppendCompactBig(buf, new(big.Int).SetUint64(v))
}

// AppendCompactBig appends the compact encoding of a non-negative integer of
// up to 536 bits. Negative values are encoded as zero.
func AppendCompactBig(buf []byte, v *big.Int) []byte {
	if v.Sign() <= 0 {
		return append(buf, 0)
	}
	if v.IsUint64() && v.Uint64() < 1<<30 {
		return AppendCompact(buf, v.Uint64())
	}
	le := leBytes(v)
	buf = append(buf, byte(len(le)-4)<<2|0b11)
	return append(buf, le...)
}

// AppendU16 appends a little-endian uint16.
func AppendU16(buf []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(buf, v)
}

// AppendU32 appends a little-endian uint32.
func AppendU32(buf []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, v)
}

// AppendU64 appends a little-endian uint64.
func AppendU64(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

// AppendU128 appends a fixed 16-byte little-endian integer.
func AppendU128(buf []byte, v *big.Int) ([]byte, error) {
	if v.Sign() < 0 || v.Cmp(maxU128) > 0 {
		return nil, fmt.Errorf("scale: %s does not fit in u128", v)
	}
	le := leBytes(v)
	out := make([]byte, 16)
	copy(out, le)
	return append(buf, out...), nil
}

// AppendBool appends a single 0/1 byte.
func AppendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// AppendBytes appends a compact length prefix followed by b.
func AppendBytes(buf, b []byte) []byte {
	buf = AppendCompact(buf, uint64(len(b)))
	return append(buf, b...)
}

// leBytes returns the minimal little-endian representation of v (at least 4 bytes).
func leBytes(v *big.Int) []byte {
	be := v.Bytes()
	n := len(be)
	if n < 4 {
		n = 4
	}
	le := make([]byte, n)
	for i, b := range be {
		le[len(be)-1-i] = b
	}
	return le
}

// Decoder reads SCALE values from a byte slice.
type Decoder struct {
	data []byte
	pos  int
}

// NewDecoder returns a decoder over data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.pos
}

// Offset returns the current read offset.
func (d *Decoder) Offset() int {
	return d.pos
}

// ReadN returns the next n bytes without copying.
func (d *Decoder) ReadN(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, ErrShortBuffer
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// ReadByte reads a single byte.
func (d *Decoder) ReadByte() (byte, error) {
	b, err := d.ReadN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBool reads a 0/1 byte.
func (d *Decoder) ReadBool() (bool, error) {
	b, err := d.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("scale: invalid bool byte 0x%02x", b)
}

// ReadU16 reads a little-endian uint16.
func (d *Decoder) ReadU16() (uint16, error) {
	b, err := d.ReadN(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadU32 reads a little-endian uint32.
func (d *Decoder) ReadU32() (uint32, error) {
	b, err := d.ReadN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64 reads a little-endian uint64.
func (d *Decoder) ReadU64() (uint64, error) {
	b, err := d.ReadN(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadU128 reads a fixed 16-byte little-endian integer.
func (d *Decoder) ReadU128() (*big.Int, error) {
	b, err := d.ReadN(16)
	if err != nil {
		return nil, err
	}
	return fromLE(b), nil
}

// ReadCompactBig reads a compact integer of arbitrary size.
func (d *Decoder) ReadCompactBig() (*big.Int, error) {
	first, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	switch first & 0b11 {
	case 0b00:
		return big.NewInt(int64(first >> 2)), nil
	case 0b01:
		next, err := d.ReadByte()
		if err != nil {
			return nil, err
		}
		v := uint64(first)>>2 | uint64(next)<<6
		return new(big.Int).SetUint64(v), nil
	case 0b10:
		rest, err := d.ReadN(3)
		if err != nil {
			return nil, err
		}
		v := binary.LittleEndian.Uint32([]byte{first, rest[0], rest[1], rest[2]}) >> 2
		return new(big.Int).SetUint64(uint64(v)), nil
	}
	n := int(first>>2) + 4
	b, err := d.ReadN(n)
	if err != nil {
		return nil, err
	}
	return fromLE(b), nil
}

// ReadCompact reads a compact integer that must fit in a uint64.
func (d *Decoder) ReadCompact() (uint64, error) {
	v, err := d.ReadCompactBig()
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("scale: compact value %s overflows uint64", v)
	}
	return v.Uint64(), nil
}

// ReadBytes reads a compact-length-prefixed byte string.
func (d *Decoder) ReadBytes() ([]byte, error) {
	n, err := d.ReadCompact()
	if err != nil {
		return nil, err
	}
	if n > uint64(d.Remaining()) {
		return nil, ErrShortBuffer
	}
	return d.ReadN(int(n))
}

// ReadString reads a compact-length-prefixed UTF-8 string.
func (d *Decoder) ReadString() (string, error) {
	b, err := d.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadLen reads a vector length prefix, bounding it by the remaining input so
// a corrupt prefix cannot trigger a huge allocation.
func (d *Decoder) ReadLen() (int, error) {
	n, err := d.ReadCompact()
	if err != nil {
		return 0, err
	}
	if n > uint64(d.Remaining()) {
		return 0, fmt.Errorf("scale: vector length %d exceeds remaining input %d", n, d.Remaining())
	}
	return int(n), nil
}

// ReadOption reads an Option tag byte and reports whether a value follows.
func (d *Decoder) ReadOption() (bool, error) {
	b, err := d.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("scale: invalid option tag 0x%02x", b)
}

func fromLE(b []byte) *big.Int {
	be := make([]byte, len(b))
	for i, v := range b {
		be[len(b)-1-i] = v
	}
	return new(big.Int).SetBytes(be)
}
