package metadata

import (
	"github.com/Klingon-tech/proxyguard/pkg/scale"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

// Encode serializes pallets as a metadata blob of the given version. Storage,
// constants, errors and docs are written empty. For V11 the pallet indices
// are implied by order and Pallet.Index is ignored.
//
// Encode exists so fake chains and tests can serve metadata that Decode
// accepts; it is not a general metadata writer.
func Encode(version uint8, pallets []Pallet, signedExtensions []string) []byte {
	buf := scale.AppendU32(nil, Magic)
	buf = append(buf, version)
	buf = scale.AppendCompact(buf, uint64(len(pallets)))

	for _, p := range pallets {
		buf = appendString(buf, p.Name)
		buf = append(buf, 0) // storage: None

		if len(p.Calls) == 0 {
			buf = append(buf, 0)
		} else {
			buf = append(buf, 1)
			buf = scale.AppendCompact(buf, uint64(len(p.Calls)))
			for _, c := range p.Calls {
				buf = appendString(buf, c.Name)
				buf = scale.AppendCompact(buf, uint64(len(c.Args)))
				for _, a := range c.Args {
					buf = appendString(buf, a.Name)
					buf = appendString(buf, a.Type)
				}
				buf = append(buf, 0) // docs
			}
		}

		if len(p.Events) == 0 {
			buf = append(buf, 0)
		} else {
			buf = append(buf, 1)
			buf = scale.AppendCompact(buf, uint64(len(p.Events)))
			for _, e := range p.Events {
				buf = appendString(buf, e.Name)
				buf = appendStrings(buf, e.Args)
				buf = append(buf, 0) // docs
			}
		}

		buf = append(buf, 0) // constants
		buf = append(buf, 0) // errors
		if version >= V12 {
			buf = append(buf, p.Index)
		}
	}

	buf = append(buf, 4) // extrinsic version
	return appendStrings(buf, signedExtensions)
}

// EncodeHex is Encode with 0x-prefixed hex output.
func EncodeHex(version uint8, pallets []Pallet, signedExtensions []string) string {
	return types.EncodeHex(Encode(version, pallets, signedExtensions))
}

func appendString(buf []byte, s string) []byte {
	return scale.AppendBytes(buf, []byte(s))
}

func appendStrings(buf []byte, ss []string) []byte {
	buf = scale.AppendCompact(buf, uint64(len(ss)))
	for _, s := range ss {
		buf = appendString(buf, s)
	}
	return buf
}
