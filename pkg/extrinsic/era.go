package extrinsic

import (
	"fmt"
	"math/bits"

	"github.com/Klingon-tech/proxyguard/pkg/scale"
)

// DefaultEraPeriod is the number of blocks a mortal transaction stays valid.
const DefaultEraPeriod = 64

const (
	minEraPeriod = 4
	maxEraPeriod = 1 << 16
)

// Era is a transaction validity window. A zero Period means immortal.
type Era struct {
	Period uint64
	Phase  uint64
}

// ImmortalEra returns an era that never expires.
func ImmortalEra() Era {
	return Era{}
}

// MortalEra returns an era of roughly period blocks anchored at current.
// The period is rounded up to a power of two and clamped to 4..65536; the
// phase is quantized so it survives the 12-bit encoding.
func MortalEra(current, period uint64) Era {
	p := uint64(1)
	if period > 1 {
		p = 1 << bits.Len64(period-1)
	}
	if p < minEraPeriod {
		p = minEraPeriod
	}
	if p > maxEraPeriod {
		p = maxEraPeriod
	}
	qf := quantizeFactor(p)
	phase := current % p / qf * qf
	return Era{Period: p, Phase: phase}
}

// IsImmortal reports whether the era never expires.
func (e Era) IsImmortal() bool {
	return e.Period == 0
}

// Birth returns the first block at which a transaction with this era is
// valid, given the current block number.
func (e Era) Birth(current uint64) uint64 {
	if e.IsImmortal() {
		return 0
	}
	b := (maxU64(current, e.Phase)-e.Phase)/e.Period*e.Period + e.Phase
	return b
}

// Death returns the first block at which the transaction is no longer valid.
func (e Era) Death(current uint64) uint64 {
	if e.IsImmortal() {
		return ^uint64(0)
	}
	return e.Birth(current) + e.Period
}

// AppendTo appends the encoded era to buf.
func (e Era) AppendTo(buf []byte) []byte {
	if e.IsImmortal() {
		return append(buf, 0)
	}
	qf := quantizeFactor(e.Period)
	low := uint64(bits.TrailingZeros64(e.Period)) - 1
	if low < 1 {
		low = 1
	}
	if low > 15 {
		low = 15
	}
	encoded := uint16(low) | uint16(e.Phase/qf)<<4
	return scale.AppendU16(buf, encoded)
}

// Bytes returns the encoded era.
func (e Era) Bytes() []byte {
	return e.AppendTo(nil)
}

// DecodeEra reads an era from d.
func DecodeEra(d *scale.Decoder) (Era, error) {
	first, err := d.ReadByte()
	if err != nil {
		return Era{}, err
	}
	if first == 0 {
		return ImmortalEra(), nil
	}
	second, err := d.ReadByte()
	if err != nil {
		return Era{}, err
	}
	encoded := uint64(first) | uint64(second)<<8
	period := uint64(2) << (encoded % 16)
	qf := quantizeFactor(period)
	phase := (encoded >> 4) * qf
	if period < minEraPeriod || phase >= period {
		return Era{}, fmt.Errorf("invalid era: period %d phase %d", period, phase)
	}
	return Era{Period: period, Phase: phase}, nil
}

func quantizeFactor(period uint64) uint64 {
	if qf := period >> 12; qf > 1 {
		return qf
	}
	return 1
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
