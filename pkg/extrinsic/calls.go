package extrinsic

import (
	"fmt"
	"math/big"

	"github.com/Klingon-tech/proxyguard/pkg/metadata"
	"github.com/Klingon-tech/proxyguard/pkg/scale"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

func init() {
	register(func() Call { return &Transfer{} })
	register(func() Call { return &TransferKeepAlive{} })
	register(func() Call { return &AsDerivative{} })
	register(func() Call { return &ProxyCall{} })
	register(func() Call { return &AddProxy{} })
	register(func() Call { return &RemoveProxies{} })
	register(func() Call { return &Announce{} })
	register(func() Call { return &RemoveAnnouncement{} })
	register(func() Call { return &RejectAnnouncement{} })
	register(func() Call { return &ProxyAnnounced{} })
	register(func() Call { return &AsMultiThreshold1{} })
	register(func() Call { return &AsMulti{} })
	register(func() Call { return &ApproveAsMulti{} })
}

// ── balances ────────────────────────────────────────────────────────────

// Transfer is balances.transfer.
type Transfer struct {
	Dest  types.Address
	Value *big.Int
}

func (*Transfer) Method() Method { return Method{"Balances", "transfer"} }

func (c *Transfer) encodeArgs(_ *metadata.Registry, buf []byte) ([]byte, error) {
	return appendTransfer(buf, c.Dest, c.Value)
}

func (c *Transfer) decodeArgs(_ *metadata.Registry, d *scale.Decoder) error {
	var err error
	c.Dest, c.Value, err = readTransfer(d)
	return err
}

// TransferKeepAlive is balances.transfer_keep_alive.
type TransferKeepAlive struct {
	Dest  types.Address
	Value *big.Int
}

func (*TransferKeepAlive) Method() Method { return Method{"Balances", "transfer_keep_alive"} }

func (c *TransferKeepAlive) encodeArgs(_ *metadata.Registry, buf []byte) ([]byte, error) {
	return appendTransfer(buf, c.Dest, c.Value)
}

func (c *TransferKeepAlive) decodeArgs(_ *metadata.Registry, d *scale.Decoder) error {
	var err error
	c.Dest, c.Value, err = readTransfer(d)
	return err
}

func appendTransfer(buf []byte, dest types.Address, value *big.Int) ([]byte, error) {
	if value == nil || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid transfer value %v", value)
	}
	buf = appendAddress(buf, dest)
	return scale.AppendCompactBig(buf, value), nil
}

func readTransfer(d *scale.Decoder) (types.Address, *big.Int, error) {
	dest, err := readAddress(d)
	if err != nil {
		return types.Address{}, nil, err
	}
	value, err := d.ReadCompactBig()
	if err != nil {
		return types.Address{}, nil, err
	}
	return dest, value, nil
}

// ── utility ─────────────────────────────────────────────────────────────

// AsDerivative is utility.as_derivative: dispatch Call from the derivative
// account at Index of the origin.
type AsDerivative struct {
	Index uint16
	Call  Call
}

func (*AsDerivative) Method() Method { return Method{"Utility", "as_derivative"} }

func (c *AsDerivative) encodeArgs(reg *metadata.Registry, buf []byte) ([]byte, error) {
	buf = scale.AppendU16(buf, c.Index)
	return appendCall(reg, buf, c.Call)
}

func (c *AsDerivative) decodeArgs(reg *metadata.Registry, d *scale.Decoder) error {
	var err error
	if c.Index, err = d.ReadU16(); err != nil {
		return err
	}
	c.Call, err = decodeCall(reg, d)
	return err
}

// ── proxy ───────────────────────────────────────────────────────────────

// ProxyCall is proxy.proxy: dispatch Call as Real immediately.
type ProxyCall struct {
	Real           types.Address
	ForceProxyType *ProxyType
	Call           Call
}

func (*ProxyCall) Method() Method { return Method{"Proxy", "proxy"} }

func (c *ProxyCall) encodeArgs(reg *metadata.Registry, buf []byte) ([]byte, error) {
	buf = appendAddress(buf, c.Real)
	buf = appendProxyTypeOption(buf, c.ForceProxyType)
	return appendCall(reg, buf, c.Call)
}

func (c *ProxyCall) decodeArgs(reg *metadata.Registry, d *scale.Decoder) error {
	var err error
	if c.Real, err = readAddress(d); err != nil {
		return err
	}
	if c.ForceProxyType, err = readProxyTypeOption(d); err != nil {
		return err
	}
	c.Call, err = decodeCall(reg, d)
	return err
}

// AddProxy is proxy.add_proxy.
type AddProxy struct {
	Delegate  types.Address
	ProxyType ProxyType
	Delay     uint32
}

func (*AddProxy) Method() Method { return Method{"Proxy", "add_proxy"} }

func (c *AddProxy) encodeArgs(_ *metadata.Registry, buf []byte) ([]byte, error) {
	buf = appendAddress(buf, c.Delegate)
	buf = append(buf, byte(c.ProxyType))
	return scale.AppendU32(buf, c.Delay), nil
}

func (c *AddProxy) decodeArgs(_ *metadata.Registry, d *scale.Decoder) error {
	var err error
	if c.Delegate, err = readAddress(d); err != nil {
		return err
	}
	if c.ProxyType, err = readProxyType(d); err != nil {
		return err
	}
	c.Delay, err = d.ReadU32()
	return err
}

// RemoveProxies is proxy.remove_proxies.
type RemoveProxies struct{}

func (*RemoveProxies) Method() Method { return Method{"Proxy", "remove_proxies"} }

func (*RemoveProxies) encodeArgs(_ *metadata.Registry, buf []byte) ([]byte, error) {
	return buf, nil
}

func (*RemoveProxies) decodeArgs(*metadata.Registry, *scale.Decoder) error { return nil }

// Announce is proxy.announce.
type Announce struct {
	Real     types.Address
	CallHash types.Hash
}

func (*Announce) Method() Method { return Method{"Proxy", "announce"} }

func (c *Announce) encodeArgs(_ *metadata.Registry, buf []byte) ([]byte, error) {
	buf = appendAddress(buf, c.Real)
	return append(buf, c.CallHash[:]...), nil
}

func (c *Announce) decodeArgs(_ *metadata.Registry, d *scale.Decoder) error {
	var err error
	if c.Real, err = readAddress(d); err != nil {
		return err
	}
	c.CallHash, err = readHash(d)
	return err
}

// RemoveAnnouncement is proxy.remove_announcement, sent by the delegate.
type RemoveAnnouncement struct {
	Real     types.Address
	CallHash types.Hash
}

func (*RemoveAnnouncement) Method() Method { return Method{"Proxy", "remove_announcement"} }

func (c *RemoveAnnouncement) encodeArgs(_ *metadata.Registry, buf []byte) ([]byte, error) {
	buf = appendAddress(buf, c.Real)
	return append(buf, c.CallHash[:]...), nil
}

func (c *RemoveAnnouncement) decodeArgs(_ *metadata.Registry, d *scale.Decoder) error {
	var err error
	if c.Real, err = readAddress(d); err != nil {
		return err
	}
	c.CallHash, err = readHash(d)
	return err
}

// RejectAnnouncement is proxy.reject_announcement, sent by the real account.
type RejectAnnouncement struct {
	Delegate types.Address
	CallHash types.Hash
}

func (*RejectAnnouncement) Method() Method { return Method{"Proxy", "reject_announcement"} }

func (c *RejectAnnouncement) encodeArgs(_ *metadata.Registry, buf []byte) ([]byte, error) {
	buf = appendAddress(buf, c.Delegate)
	return append(buf, c.CallHash[:]...), nil
}

func (c *RejectAnnouncement) decodeArgs(_ *metadata.Registry, d *scale.Decoder) error {
	var err error
	if c.Delegate, err = readAddress(d); err != nil {
		return err
	}
	c.CallHash, err = readHash(d)
	return err
}

// ProxyAnnounced is proxy.proxy_announced: execute a previously announced
// Call once the delay has passed.
type ProxyAnnounced struct {
	Delegate       types.Address
	Real           types.Address
	ForceProxyType *ProxyType
	Call           Call
}

func (*ProxyAnnounced) Method() Method { return Method{"Proxy", "proxy_announced"} }

func (c *ProxyAnnounced) encodeArgs(reg *metadata.Registry, buf []byte) ([]byte, error) {
	buf = appendAddress(buf, c.Delegate)
	buf = appendAddress(buf, c.Real)
	buf = appendProxyTypeOption(buf, c.ForceProxyType)
	return appendCall(reg, buf, c.Call)
}

func (c *ProxyAnnounced) decodeArgs(reg *metadata.Registry, d *scale.Decoder) error {
	var err error
	if c.Delegate, err = readAddress(d); err != nil {
		return err
	}
	if c.Real, err = readAddress(d); err != nil {
		return err
	}
	if c.ForceProxyType, err = readProxyTypeOption(d); err != nil {
		return err
	}
	c.Call, err = decodeCall(reg, d)
	return err
}

// ── multisig ────────────────────────────────────────────────────────────

// AsMultiThreshold1 is multisig.as_multi_threshold_1.
type AsMultiThreshold1 struct {
	OtherSignatories []types.Address
	Call             Call
}

func (*AsMultiThreshold1) Method() Method { return Method{"Multisig", "as_multi_threshold_1"} }

func (c *AsMultiThreshold1) encodeArgs(reg *metadata.Registry, buf []byte) ([]byte, error) {
	buf = appendAddresses(buf, c.OtherSignatories)
	return appendCall(reg, buf, c.Call)
}

func (c *AsMultiThreshold1) decodeArgs(reg *metadata.Registry, d *scale.Decoder) error {
	var err error
	if c.OtherSignatories, err = readAddresses(d); err != nil {
		return err
	}
	c.Call, err = decodeCall(reg, d)
	return err
}

// AsMulti is multisig.as_multi. The inner call travels as opaque bytes.
type AsMulti struct {
	Threshold        uint16
	OtherSignatories []types.Address
	MaybeTimepoint   *types.Timepoint
	Call             Call
	StoreCall        bool
	MaxWeight        uint64
}

func (*AsMulti) Method() Method { return Method{"Multisig", "as_multi"} }

func (c *AsMulti) encodeArgs(reg *metadata.Registry, buf []byte) ([]byte, error) {
	inner, err := Encode(reg, c.Call)
	if err != nil {
		return nil, err
	}
	buf = scale.AppendU16(buf, c.Threshold)
	buf = appendAddresses(buf, c.OtherSignatories)
	buf = appendTimepoint(buf, c.MaybeTimepoint)
	buf = scale.AppendBytes(buf, inner)
	buf = scale.AppendBool(buf, c.StoreCall)
	return scale.AppendU64(buf, c.MaxWeight), nil
}

func (c *AsMulti) decodeArgs(reg *metadata.Registry, d *scale.Decoder) error {
	var err error
	if c.Threshold, err = d.ReadU16(); err != nil {
		return err
	}
	if c.OtherSignatories, err = readAddresses(d); err != nil {
		return err
	}
	if c.MaybeTimepoint, err = readTimepoint(d); err != nil {
		return err
	}
	inner, err := d.ReadBytes()
	if err != nil {
		return err
	}
	if c.Call, err = Decode(reg, inner); err != nil {
		return err
	}
	if c.StoreCall, err = d.ReadBool(); err != nil {
		return err
	}
	c.MaxWeight, err = d.ReadU64()
	return err
}

// ApproveAsMulti is multisig.approve_as_multi: approve a call by hash only.
type ApproveAsMulti struct {
	Threshold        uint16
	OtherSignatories []types.Address
	MaybeTimepoint   *types.Timepoint
	CallHash         types.Hash
	MaxWeight        uint64
}

func (*ApproveAsMulti) Method() Method { return Method{"Multisig", "approve_as_multi"} }

func (c *ApproveAsMulti) encodeArgs(_ *metadata.Registry, buf []byte) ([]byte, error) {
	buf = scale.AppendU16(buf, c.Threshold)
	buf = appendAddresses(buf, c.OtherSignatories)
	buf = appendTimepoint(buf, c.MaybeTimepoint)
	buf = append(buf, c.CallHash[:]...)
	return scale.AppendU64(buf, c.MaxWeight), nil
}

func (c *ApproveAsMulti) decodeArgs(_ *metadata.Registry, d *scale.Decoder) error {
	var err error
	if c.Threshold, err = d.ReadU16(); err != nil {
		return err
	}
	if c.OtherSignatories, err = readAddresses(d); err != nil {
		return err
	}
	if c.MaybeTimepoint, err = readTimepoint(d); err != nil {
		return err
	}
	if c.CallHash, err = readHash(d); err != nil {
		return err
	}
	c.MaxWeight, err = d.ReadU64()
	return err
}
