// Package extrinsic encodes and decodes the calls used by the proxy security
// protocol and assembles signed version 4 extrinsics.
//
// Calls are encoded against a metadata.Registry, which supplies the two-byte
// call index; argument layouts are fixed per call type in this package.
package extrinsic

import (
	"math/big"

	"github.com/Klingon-tech/proxyguard/pkg/crypto"
	"github.com/Klingon-tech/proxyguard/pkg/scale"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

// maxPayloadSize is the signing payload length above which the payload is
// hashed before signing.
const maxPayloadSize = 256

// Context is the execution context a call is signed under.
type Context struct {
	Era         Era
	Nonce       uint64
	Tip         *big.Int
	SpecVersion uint32
	TxVersion   uint32
	GenesisHash types.Hash
	// BlockHash is the era's anchor block; the genesis hash for immortal eras.
	BlockHash types.Hash
}

func (c Context) tip() *big.Int {
	if c.Tip == nil {
		return new(big.Int)
	}
	return c.Tip
}

// SigningPayload returns the bytes a signer signs for call under ctx:
//
//	call ++ era ++ compact(nonce) ++ compact(tip) ++ specVersion ++ txVersion
//	     ++ genesisHash ++ blockHash
//
// Payloads longer than 256 bytes are replaced by their BLAKE2b-256 hash.
func SigningPayload(call []byte, ctx Context) []byte {
	buf := make([]byte, 0, len(call)+2+9+17+8+64)
	buf = append(buf, call...)
	buf = ctx.Era.AppendTo(buf)
	buf = scale.AppendCompact(buf, ctx.Nonce)
	buf = scale.AppendCompactBig(buf, ctx.tip())
	buf = scale.AppendU32(buf, ctx.SpecVersion)
	buf = scale.AppendU32(buf, ctx.TxVersion)
	buf = append(buf, ctx.GenesisHash[:]...)
	buf = append(buf, ctx.BlockHash[:]...)

	if len(buf) > maxPayloadSize {
		h := crypto.Hash(buf)
		return h[:]
	}
	return buf
}
