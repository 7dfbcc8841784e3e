package extrinsic

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/proxyguard/pkg/crypto"
	"github.com/Klingon-tech/proxyguard/pkg/metadata"
	"github.com/Klingon-tech/proxyguard/pkg/scale"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

// ErrUnknownCall is returned when a call is missing from the registry or has
// no argument layout in this package.
var ErrUnknownCall = errors.New("unknown call")

// Method names a call by pallet and call name, in the runtime's snake_case.
type Method struct {
	Pallet string
	Name   string
}

func (m Method) String() string {
	return m.Pallet + "." + m.Name
}

// Call is a dispatchable call with typed arguments.
type Call interface {
	Method() Method
	encodeArgs(reg *metadata.Registry, buf []byte) ([]byte, error)
	decodeArgs(reg *metadata.Registry, d *scale.Decoder) error
}

// layouts maps a normalized method to a constructor for its argument type.
var layouts = map[string]func() Call{}

func register(ctor func() Call) {
	m := ctor().Method()
	layouts[layoutKey(m.Pallet, m.Name)] = ctor
}

func layoutKey(pallet, name string) string {
	return fmt.Sprintf("%s.%s", metadata.NormalizeName(pallet), metadata.NormalizeName(name))
}

// Encode encodes call as call index ++ arguments.
func Encode(reg *metadata.Registry, call Call) ([]byte, error) {
	return appendCall(reg, nil, call)
}

func appendCall(reg *metadata.Registry, buf []byte, call Call) ([]byte, error) {
	if call == nil {
		return nil, fmt.Errorf("%w: nil call", ErrUnknownCall)
	}
	m := call.Method()
	ref, ok := reg.Call(m.Pallet, m.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s not in metadata", ErrUnknownCall, m)
	}
	buf = append(buf, ref.Index[0], ref.Index[1])
	out, err := call.encodeArgs(reg, buf)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m, err)
	}
	return out, nil
}

// Decode decodes an encoded call. The whole input must be consumed.
func Decode(reg *metadata.Registry, b []byte) (Call, error) {
	d := scale.NewDecoder(b)
	call, err := decodeCall(reg, d)
	if err != nil {
		return nil, err
	}
	if d.Remaining() != 0 {
		return nil, fmt.Errorf("decode %s: %d trailing bytes", call.Method(), d.Remaining())
	}
	return call, nil
}

func decodeCall(reg *metadata.Registry, d *scale.Decoder) (Call, error) {
	idx, err := d.ReadN(2)
	if err != nil {
		return nil, fmt.Errorf("call index: %w", err)
	}
	ref, ok := reg.CallByIndex([2]byte{idx[0], idx[1]})
	if !ok {
		return nil, fmt.Errorf("%w: index %d/%d", ErrUnknownCall, idx[0], idx[1])
	}
	ctor, ok := layouts[layoutKey(ref.Pallet, ref.Name)]
	if !ok {
		return nil, fmt.Errorf("%w: no layout for %s.%s", ErrUnknownCall, ref.Pallet, ref.Name)
	}
	call := ctor()
	if err := call.decodeArgs(reg, d); err != nil {
		return nil, fmt.Errorf("decode %s: %w", call.Method(), err)
	}
	return call, nil
}

// Hash returns the BLAKE2b-256 hash of an encoded call, as used by
// proxy.announce and multisig.approve_as_multi.
func Hash(encoded []byte) types.Hash {
	return crypto.Hash(encoded)
}

// Destination returns the funds destination of call, unwrapping utility,
// proxy and multisig wrappers. The second result is false when the call has
// no single destination.
func Destination(call Call) (types.Address, bool) {
	switch c := call.(type) {
	case *Transfer:
		return c.Dest, true
	case *TransferKeepAlive:
		return c.Dest, true
	case *AsDerivative:
		return Destination(c.Call)
	case *ProxyCall:
		return Destination(c.Call)
	case *ProxyAnnounced:
		return Destination(c.Call)
	case *AsMultiThreshold1:
		return Destination(c.Call)
	case *AsMulti:
		return Destination(c.Call)
	}
	return types.Address{}, false
}

// ── argument helpers ────────────────────────────────────────────────────

func appendAddress(buf []byte, a types.Address) []byte {
	return append(buf, a[:]...)
}

func readAddress(d *scale.Decoder) (types.Address, error) {
	b, err := d.ReadN(types.AddressSize)
	if err != nil {
		return types.Address{}, err
	}
	return types.AddressFromBytes(b)
}

func appendAddresses(buf []byte, addrs []types.Address) []byte {
	buf = scale.AppendCompact(buf, uint64(len(addrs)))
	for _, a := range addrs {
		buf = appendAddress(buf, a)
	}
	return buf
}

func readAddresses(d *scale.Decoder) ([]types.Address, error) {
	n, err := d.ReadLen()
	if err != nil {
		return nil, err
	}
	out := make([]types.Address, 0, n)
	for i := 0; i < n; i++ {
		a, err := readAddress(d)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func readHash(d *scale.Decoder) (types.Hash, error) {
	b, err := d.ReadN(types.HashSize)
	if err != nil {
		return types.Hash{}, err
	}
	var h types.Hash
	copy(h[:], b)
	return h, nil
}

func appendTimepoint(buf []byte, tp *types.Timepoint) []byte {
	if tp == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	buf = scale.AppendU32(buf, tp.Height)
	return scale.AppendU32(buf, tp.Index)
}

func readTimepoint(d *scale.Decoder) (*types.Timepoint, error) {
	some, err := d.ReadOption()
	if err != nil || !some {
		return nil, err
	}
	var tp types.Timepoint
	if tp.Height, err = d.ReadU32(); err != nil {
		return nil, err
	}
	if tp.Index, err = d.ReadU32(); err != nil {
		return nil, err
	}
	return &tp, nil
}

func appendProxyTypeOption(buf []byte, pt *ProxyType) []byte {
	if pt == nil {
		return append(buf, 0)
	}
	return append(buf, 1, byte(*pt))
}

func readProxyType(d *scale.Decoder) (ProxyType, error) {
	b, err := d.ReadByte()
	if err != nil {
		return 0, err
	}
	if !validProxyType(b) {
		return 0, fmt.Errorf("invalid proxy type %d", b)
	}
	return ProxyType(b), nil
}

func readProxyTypeOption(d *scale.Decoder) (*ProxyType, error) {
	some, err := d.ReadOption()
	if err != nil || !some {
		return nil, err
	}
	pt, err := readProxyType(d)
	if err != nil {
		return nil, err
	}
	return &pt, nil
}
