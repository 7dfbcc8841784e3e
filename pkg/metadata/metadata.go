// Package metadata decodes Substrate runtime metadata (versions 11 and 12)
// into a Registry that maps pallet and call names to their on-chain indices.
//
// Only the parts needed to build and decode extrinsics are retained: pallet
// names and indices, call names with their argument lists, and event names.
// Storage, constant and error sections are parsed and discarded.
package metadata

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Klingon-tech/proxyguard/pkg/scale"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

// ErrMetadataDecode is returned for any malformed metadata blob.
var ErrMetadataDecode = errors.New("metadata decode error")

// Magic is the "meta" prefix of every metadata blob, read as a little-endian u32.
const Magic uint32 = 0x6174656d

// Supported metadata versions.
const (
	V11 uint8 = 11
	V12 uint8 = 12
)

// Arg is a named call argument with its type name as written in metadata.
type Arg struct {
	Name string
	Type string
}

// Call describes one dispatchable call of a pallet.
type Call struct {
	Name  string
	Index uint8
	Args  []Arg
}

// Event describes one event variant of a pallet.
type Event struct {
	Name  string
	Index uint8
	Args  []string
}

// Pallet is a runtime module with its call and event tables.
type Pallet struct {
	Name   string
	Index  uint8
	Calls  []Call
	Events []Event
}

// CallRef is a resolved call: its pallet and call names plus the two-byte
// index that prefixes the encoded call.
type CallRef struct {
	Pallet string
	Name   string
	Index  [2]byte
	Args   []Arg
}

// Registry is a decoded metadata blob.
type Registry struct {
	Version          uint8
	ExtrinsicVersion uint8
	SignedExtensions []string

	pallets []*Pallet
	byName  map[string]*Pallet
	byIndex map[uint8]*Pallet
}

// DecodeHex decodes a 0x-prefixed hex metadata blob, as served by the sidecar.
func DecodeHex(s string) (*Registry, error) {
	b, err := types.DecodeHex(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataDecode, err)
	}
	return Decode(b)
}

// Decode parses a raw metadata blob.
func Decode(blob []byte) (*Registry, error) {
	reg, err := decode(scale.NewDecoder(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataDecode, err)
	}
	return reg, nil
}

func decode(d *scale.Decoder) (*Registry, error) {
	magic, err := d.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("bad magic 0x%08x", magic)
	}
	version, err := d.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}
	if version != V11 && version != V12 {
		return nil, fmt.Errorf("unsupported metadata version %d", version)
	}

	n, err := d.ReadLen()
	if err != nil {
		return nil, fmt.Errorf("module count: %w", err)
	}

	reg := &Registry{
		Version: version,
		byName:  make(map[string]*Pallet, n),
		byIndex: make(map[uint8]*Pallet, n),
	}

	// V11 has no explicit index: a pallet's call index is its position
	// among the pallets that have calls.
	var callCounter uint8
	for i := 0; i < n; i++ {
		p, hasCalls, err := decodeModule(d, version)
		if err != nil {
			return nil, fmt.Errorf("module %d: %w", i, err)
		}
		if version == V11 {
			p.Index = callCounter
			if hasCalls {
				callCounter++
			}
		}
		reg.add(p)
	}

	reg.ExtrinsicVersion, err = d.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("extrinsic version: %w", err)
	}
	reg.SignedExtensions, err = readStrings(d)
	if err != nil {
		return nil, fmt.Errorf("signed extensions: %w", err)
	}
	if d.Remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", d.Remaining())
	}
	return reg, nil
}

func decodeModule(d *scale.Decoder, version uint8) (*Pallet, bool, error) {
	name, err := d.ReadString()
	if err != nil {
		return nil, false, fmt.Errorf("name: %w", err)
	}
	p := &Pallet{Name: name}

	if err := skipStorage(d); err != nil {
		return nil, false, fmt.Errorf("%s storage: %w", name, err)
	}

	hasCalls, err := d.ReadOption()
	if err != nil {
		return nil, false, fmt.Errorf("%s calls: %w", name, err)
	}
	if hasCalls {
		if p.Calls, err = decodeCalls(d); err != nil {
			return nil, false, fmt.Errorf("%s calls: %w", name, err)
		}
	}

	hasEvents, err := d.ReadOption()
	if err != nil {
		return nil, false, fmt.Errorf("%s events: %w", name, err)
	}
	if hasEvents {
		if p.Events, err = decodeEvents(d); err != nil {
			return nil, false, fmt.Errorf("%s events: %w", name, err)
		}
	}

	if err := skipConstants(d); err != nil {
		return nil, false, fmt.Errorf("%s constants: %w", name, err)
	}
	if err := skipErrors(d); err != nil {
		return nil, false, fmt.Errorf("%s errors: %w", name, err)
	}

	if version >= V12 {
		if p.Index, err = d.ReadByte(); err != nil {
			return nil, false, fmt.Errorf("%s index: %w", name, err)
		}
	}
	return p, hasCalls, nil
}

func decodeCalls(d *scale.Decoder) ([]Call, error) {
	n, err := d.ReadLen()
	if err != nil {
		return nil, err
	}
	if n > 256 {
		return nil, fmt.Errorf("%d calls exceed the u8 index space", n)
	}
	calls := make([]Call, 0, n)
	for i := 0; i < n; i++ {
		c := Call{Index: uint8(i)}
		if c.Name, err = d.ReadString(); err != nil {
			return nil, err
		}
		argc, err := d.ReadLen()
		if err != nil {
			return nil, err
		}
		for j := 0; j < argc; j++ {
			var a Arg
			if a.Name, err = d.ReadString(); err != nil {
				return nil, err
			}
			if a.Type, err = d.ReadString(); err != nil {
				return nil, err
			}
			c.Args = append(c.Args, a)
		}
		if _, err := readStrings(d); err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, nil
}

func decodeEvents(d *scale.Decoder) ([]Event, error) {
	n, err := d.ReadLen()
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		e := Event{Index: uint8(i)}
		if e.Name, err = d.ReadString(); err != nil {
			return nil, err
		}
		if e.Args, err = readStrings(d); err != nil {
			return nil, err
		}
		if _, err := readStrings(d); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func skipStorage(d *scale.Decoder) error {
	present, err := d.ReadOption()
	if err != nil || !present {
		return err
	}
	if _, err := d.ReadString(); err != nil {
		return err
	}
	n, err := d.ReadLen()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := d.ReadString(); err != nil {
			return err
		}
		if _, err := d.ReadByte(); err != nil { // modifier
			return err
		}
		kind, err := d.ReadByte()
		if err != nil {
			return err
		}
		switch kind {
		case 0: // plain
			if _, err := d.ReadString(); err != nil {
				return err
			}
		case 1: // map
			if err := skipSeq(d, readHasher, readText, readText, readFlag); err != nil {
				return err
			}
		case 2: // double map
			if err := skipSeq(d, readHasher, readText, readText, readText, readHasher); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown storage entry type %d", kind)
		}
		if _, err := d.ReadBytes(); err != nil { // default
			return err
		}
		if _, err := readStrings(d); err != nil {
			return err
		}
	}
	return nil
}

func skipConstants(d *scale.Decoder) error {
	n, err := d.ReadLen()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := skipSeq(d, readText, readText); err != nil {
			return err
		}
		if _, err := d.ReadBytes(); err != nil {
			return err
		}
		if _, err := readStrings(d); err != nil {
			return err
		}
	}
	return nil
}

func skipErrors(d *scale.Decoder) error {
	n, err := d.ReadLen()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := d.ReadString(); err != nil {
			return err
		}
		if _, err := readStrings(d); err != nil {
			return err
		}
	}
	return nil
}

func readText(d *scale.Decoder) error {
	_, err := d.ReadString()
	return err
}

func readFlag(d *scale.Decoder) error {
	_, err := d.ReadBool()
	return err
}

func readHasher(d *scale.Decoder) error {
	h, err := d.ReadByte()
	if err != nil {
		return err
	}
	if h > 6 {
		return fmt.Errorf("unknown storage hasher %d", h)
	}
	return nil
}

func skipSeq(d *scale.Decoder, readers ...func(*scale.Decoder) error) error {
	for _, r := range readers {
		if err := r(d); err != nil {
			return err
		}
	}
	return nil
}

func readStrings(d *scale.Decoder) ([]string, error) {
	n, err := d.ReadLen()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *Registry) add(p *Pallet) {
	r.pallets = append(r.pallets, p)
	r.byName[NormalizeName(p.Name)] = p
	if len(p.Calls) > 0 {
		r.byIndex[p.Index] = p
	}
}

// Pallets returns the pallets in metadata order.
func (r *Registry) Pallets() []*Pallet {
	out := make([]*Pallet, len(r.pallets))
	copy(out, r.pallets)
	return out
}

// Pallet looks up a pallet by name. Matching ignores case and underscores.
func (r *Registry) Pallet(name string) (*Pallet, bool) {
	p, ok := r.byName[NormalizeName(name)]
	return p, ok
}

// Call resolves pallet and call names to a CallRef. Both "approve_as_multi"
// and "approveAsMulti" resolve to the same call.
func (r *Registry) Call(pallet, call string) (CallRef, bool) {
	p, ok := r.Pallet(pallet)
	if !ok {
		return CallRef{}, false
	}
	want := NormalizeName(call)
	for _, c := range p.Calls {
		if NormalizeName(c.Name) == want {
			return CallRef{
				Pallet: p.Name,
				Name:   c.Name,
				Index:  [2]byte{p.Index, c.Index},
				Args:   c.Args,
			}, true
		}
	}
	return CallRef{}, false
}

// CallByIndex resolves a two-byte call index.
func (r *Registry) CallByIndex(idx [2]byte) (CallRef, bool) {
	p, ok := r.byIndex[idx[0]]
	if !ok || int(idx[1]) >= len(p.Calls) {
		return CallRef{}, false
	}
	c := p.Calls[idx[1]]
	return CallRef{Pallet: p.Name, Name: c.Name, Index: idx, Args: c.Args}, true
}

// HasEvent reports whether pallet declares an event called method.
func (r *Registry) HasEvent(pallet, method string) bool {
	p, ok := r.Pallet(pallet)
	if !ok {
		return false
	}
	want := NormalizeName(method)
	for _, e := range p.Events {
		if NormalizeName(e.Name) == want {
			return true
		}
	}
	return false
}

// NormalizeName folds "approve_as_multi", "approveAsMulti" and
// "ApproveAsMulti" to the same key.
func NormalizeName(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}

// SameName reports whether two pallet, call or event names refer to the same
// item under the sidecar's camelCase and the runtime's snake_case spellings.
func SameName(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}
