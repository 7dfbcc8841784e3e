package extrinsic

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/Klingon-tech/proxyguard/pkg/crypto"
	"github.com/Klingon-tech/proxyguard/pkg/scale"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

const (
	// Version is the extrinsic format version.
	Version = 4
	// signedBit marks an extrinsic as signed in the version byte.
	signedBit = 0x80
	// multiSignatureEcdsa is the MultiSignature variant for secp256k1.
	multiSignatureEcdsa = 2
)

// Signed is a signed extrinsic.
type Signed struct {
	Signer    types.Address
	Signature []byte
	Era       Era
	Nonce     uint64
	Tip       *big.Int
	Call      []byte
}

// Sign signs the encoded call under ctx and returns the signed extrinsic.
func Sign(call []byte, ctx Context, signer crypto.Signer) (*Signed, error) {
	sig, err := signer.Sign(SigningPayload(call, ctx))
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}
	if len(sig) != crypto.SignatureSize {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureSize, len(sig))
	}
	return &Signed{
		Signer:    signer.AccountID(),
		Signature: sig,
		Era:       ctx.Era,
		Nonce:     ctx.Nonce,
		Tip:       ctx.tip(),
		Call:      bytes.Clone(call),
	}, nil
}

// Encode returns the length-prefixed extrinsic bytes, ready for submission.
func (s *Signed) Encode() []byte {
	body := make([]byte, 0, 1+32+1+65+2+9+17+len(s.Call))
	body = append(body, signedBit|Version)
	body = append(body, s.Signer[:]...)
	body = append(body, multiSignatureEcdsa)
	body = append(body, s.Signature...)
	body = s.Era.AppendTo(body)
	body = scale.AppendCompact(body, s.Nonce)
	tip := s.Tip
	if tip == nil {
		tip = new(big.Int)
	}
	body = scale.AppendCompactBig(body, tip)
	body = append(body, s.Call...)
	return scale.AppendBytes(nil, body)
}

// Hex returns the 0x-prefixed hex encoding, as POST /transaction expects.
func (s *Signed) Hex() string {
	return types.EncodeHex(s.Encode())
}

// Hash returns the extrinsic hash.
func (s *Signed) Hash() types.Hash {
	return crypto.Hash(s.Encode())
}

// Verify checks the signature against the signer account for the given
// context.
func (s *Signed) Verify(ctx Context) bool {
	ctx.Era, ctx.Nonce, ctx.Tip = s.Era, s.Nonce, s.Tip
	return crypto.VerifySignature(SigningPayload(s.Call, ctx), s.Signature, s.Signer)
}

// DecodeSigned parses a length-prefixed signed extrinsic.
func DecodeSigned(b []byte) (*Signed, error) {
	d := scale.NewDecoder(b)
	n, err := d.ReadLen()
	if err != nil {
		return nil, fmt.Errorf("extrinsic length: %w", err)
	}
	if n != d.Remaining() {
		return nil, fmt.Errorf("extrinsic length %d, have %d bytes", n, d.Remaining())
	}

	version, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != signedBit|Version {
		return nil, fmt.Errorf("unsupported extrinsic version byte 0x%02x", version)
	}

	s := &Signed{}
	if s.Signer, err = readAddress(d); err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	kind, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	if kind != multiSignatureEcdsa {
		return nil, fmt.Errorf("unsupported signature type %d", kind)
	}
	sig, err := d.ReadN(crypto.SignatureSize)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	s.Signature = bytes.Clone(sig)
	if s.Era, err = DecodeEra(d); err != nil {
		return nil, fmt.Errorf("era: %w", err)
	}
	if s.Nonce, err = d.ReadCompact(); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	if s.Tip, err = d.ReadCompactBig(); err != nil {
		return nil, fmt.Errorf("tip: %w", err)
	}
	call, _ := d.ReadN(d.Remaining())
	s.Call = bytes.Clone(call)
	return s, nil
}
