package sidecar

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Klingon-tech/proxyguard/pkg/types"
	"github.com/shopspring/decimal"
)

// At identifies the block a response was computed at.
type At struct {
	Hash   types.Hash `json:"hash"`
	Height uint64     `json:"height,string"`
}

// FrameMethod names a pallet item, in the sidecar's camelCase.
type FrameMethod struct {
	Pallet string `json:"pallet"`
	Method string `json:"method"`
}

func (m FrameMethod) String() string {
	return m.Pallet + "." + m.Method
}

// Event is an event emitted while applying an extrinsic.
type Event struct {
	Method FrameMethod       `json:"method"`
	Data   []json.RawMessage `json:"data"`
}

// DataString returns data item i when it is a JSON string.
func (e Event) DataString(i int) (string, bool) {
	if i < 0 || i >= len(e.Data) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(e.Data[i], &s); err != nil {
		return "", false
	}
	return s, true
}

// DataAddress parses data item i as an account id.
func (e Event) DataAddress(i int) (types.Address, bool) {
	s, ok := e.DataString(i)
	if !ok {
		return types.Address{}, false
	}
	a, err := types.ParseAddress(s)
	if err != nil {
		return types.Address{}, false
	}
	return a, true
}

// DataHash parses data item i as a 32-byte hash.
func (e Event) DataHash(i int) (types.Hash, bool) {
	s, ok := e.DataString(i)
	if !ok {
		return types.Hash{}, false
	}
	h, err := types.HexToHash(s)
	if err != nil {
		return types.Hash{}, false
	}
	return h, true
}

// Signer is the account that signed an extrinsic. Older sidecar versions
// render it as a string, newer ones as {"id": "..."}.
type Signer string

// UnmarshalJSON accepts either representation.
func (s *Signer) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = Signer(str)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	*s = Signer(obj.ID)
	return nil
}

// Signature of a signed extrinsic.
type Signature struct {
	Signature string `json:"signature"`
	Signer    Signer `json:"signer"`
}

// Extrinsic is one extrinsic of a block with the events it emitted.
type Extrinsic struct {
	Method    FrameMethod     `json:"method"`
	Signature *Signature      `json:"signature"`
	Nonce     string          `json:"nonce"`
	Args      json.RawMessage `json:"args"`
	Tip       string          `json:"tip"`
	Hash      string          `json:"hash"`
	Events    []Event         `json:"events"`
	Success   bool            `json:"success"`
	PaysFee   bool            `json:"paysFee"`
}

// SignedBy reports whether the extrinsic was signed by account.
func (x Extrinsic) SignedBy(account types.Address) bool {
	if x.Signature == nil {
		return false
	}
	a, err := types.ParseAddress(string(x.Signature.Signer))
	return err == nil && a == account
}

// Block is a block with its extrinsics.
type Block struct {
	Number     uint64      `json:"number,string"`
	Hash       types.Hash  `json:"hash"`
	ParentHash types.Hash  `json:"parentHash"`
	Extrinsics []Extrinsic `json:"extrinsics"`
}

// BalanceInfo is the response of /accounts/{account}/balance-info.
type BalanceInfo struct {
	At         At              `json:"at"`
	Nonce      uint64          `json:"nonce,string"`
	Free       decimal.Decimal `json:"free"`
	Reserved   decimal.Decimal `json:"reserved"`
	MiscFrozen decimal.Decimal `json:"miscFrozen"`
	FeeFrozen  decimal.Decimal `json:"feeFrozen"`
}

// TransactionMaterial is the response of /transaction/material.
type TransactionMaterial struct {
	At          At         `json:"at"`
	GenesisHash types.Hash `json:"genesisHash"`
	ChainName   string     `json:"chainName"`
	SpecName    string     `json:"specName"`
	SpecVersion uint32     `json:"specVersion,string"`
	TxVersion   uint32     `json:"txVersion,string"`
	// Metadata is the hex metadata blob; empty when requested with noMeta.
	Metadata string `json:"metadata,omitempty"`
}

// SubmitResult is the response of POST /transaction.
type SubmitResult struct {
	Hash types.Hash `json:"hash"`
}

func heightString(h uint64) string {
	return strconv.FormatUint(h, 10)
}
