// Package sidecartest provides an in-process fake sidecar backed by a
// scripted chain, for tests of code that talks to a sidecar.
//
// Blocks are produced only when the test asks for them (AddBlock, Mine or
// AutoMine). Submitted extrinsics are verified against the chain's genesis
// hash, runtime versions and era anchor, then held until the next Mine, which
// turns each one into a block extrinsic through the configured Runtime.
package sidecartest

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Klingon-tech/proxyguard/internal/sidecar"
	"github.com/Klingon-tech/proxyguard/pkg/crypto"
	"github.com/Klingon-tech/proxyguard/pkg/extrinsic"
	"github.com/Klingon-tech/proxyguard/pkg/metadata"
	"github.com/Klingon-tech/proxyguard/pkg/types"
	"github.com/shopspring/decimal"
)

// Runtime turns a submitted extrinsic into the block extrinsic it produces
// at position index of the block at height. reg decodes the call.
type Runtime func(height uint64, index int, tx *extrinsic.Signed, reg *metadata.Registry) sidecar.Extrinsic

// Chain is a fake sidecar serving a scripted chain.
type Chain struct {
	SpecVersion uint32
	TxVersion   uint32

	srv      *httptest.Server
	registry *metadata.Registry
	metaHex  string

	mu        sync.Mutex
	blocks    []sidecar.Block
	nonces    map[types.Address]uint64
	free      map[types.Address]decimal.Decimal
	pending   []*extrinsic.Signed
	submitted []*extrinsic.Signed
	runtime   Runtime
	failNext  int
	requests  map[string]int
}

// NewChain starts a fake sidecar with a genesis block at height 0 and the
// development runtime metadata.
func NewChain() *Chain {
	reg, err := metadata.Decode(metadata.DevMetadata())
	if err != nil {
		panic(fmt.Sprintf("sidecartest: dev metadata: %v", err))
	}
	c := &Chain{
		SpecVersion: 25,
		TxVersion:   5,
		registry:    reg,
		metaHex:     types.EncodeHex(metadata.DevMetadata()),
		nonces:      make(map[types.Address]uint64),
		free:        make(map[types.Address]decimal.Decimal),
		runtime:     SuccessRuntime,
		requests:    make(map[string]int),
	}
	c.blocks = append(c.blocks, sidecar.Block{Number: 0, Hash: blockHash(0)})
	c.srv = httptest.NewServer(http.HandlerFunc(c.serve))
	return c
}

// URL returns the base URL of the fake sidecar.
func (c *Chain) URL() string { return c.srv.URL }

// Close stops the server.
func (c *Chain) Close() { c.srv.Close() }

// Registry returns the decoded metadata the chain serves.
func (c *Chain) Registry() *metadata.Registry { return c.registry }

// GenesisHash returns the hash of block 0.
func (c *Chain) GenesisHash() types.Hash { return blockHash(0) }

// BlockHash returns the hash of the block at height.
func (c *Chain) BlockHash(height uint64) types.Hash { return blockHash(height) }

// SetRuntime replaces the runtime used by Mine.
func (c *Chain) SetRuntime(r Runtime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runtime = r
}

// SetNonce sets the on-chain nonce of account.
func (c *Chain) SetNonce(account types.Address, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[account] = nonce
}

// Nonce returns the on-chain nonce of account.
func (c *Chain) Nonce(account types.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account]
}

// SetFree sets the free balance reported for account.
func (c *Chain) SetFree(account types.Address, free decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.free[account] = free
}

// FailNext makes the next n GET requests fail with 503.
func (c *Chain) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
}

// Requests returns how many requests hit route ("latest", "block",
// "balance", "material", "submit").
func (c *Chain) Requests(route string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[route]
}

// Head returns the current head height.
func (c *Chain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.blocks) - 1)
}

// AddBlock appends a block holding exts and returns its height.
func (c *Chain) AddBlock(exts ...sidecar.Extrinsic) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addBlockLocked(exts)
}

// AddEmptyBlocks appends n empty blocks and returns the new head.
func (c *Chain) AddEmptyBlocks(n int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var h uint64
	for i := 0; i < n; i++ {
		h = c.addBlockLocked(nil)
	}
	return h
}

func (c *Chain) addBlockLocked(exts []sidecar.Extrinsic) uint64 {
	h := uint64(len(c.blocks))
	if exts == nil {
		exts = []sidecar.Extrinsic{}
	}
	c.blocks = append(c.blocks, sidecar.Block{
		Number:     h,
		Hash:       blockHash(h),
		ParentHash: blockHash(h - 1),
		Extrinsics: exts,
	})
	return h
}

// Mine produces one block containing every pending submission, in
// submission order, and returns its height.
func (c *Chain) Mine() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := uint64(len(c.blocks))
	exts := make([]sidecar.Extrinsic, 0, len(c.pending))
	for i, tx := range c.pending {
		exts = append(exts, c.runtime(h, i, tx, c.registry))
		if tx.Nonce+1 > c.nonces[tx.Signer] {
			c.nonces[tx.Signer] = tx.Nonce + 1
		}
	}
	c.pending = nil
	return c.addBlockLocked(exts)
}

// AutoMine calls Mine every interval until ctx is done.
func (c *Chain) AutoMine(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Mine()
			}
		}
	}()
}

// Submitted returns every accepted submission, in order.
func (c *Chain) Submitted() []*extrinsic.Signed {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*extrinsic.Signed, len(c.submitted))
	copy(out, c.submitted)
	return out
}

// Pending returns the number of submissions waiting for the next Mine.
func (c *Chain) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Chain) serve(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	if r.Method == http.MethodGet && c.failNext > 0 {
		c.failNext--
		c.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	c.mu.Unlock()

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/blocks/latest":
		c.count("latest")
		c.mu.Lock()
		b := c.blocks[len(c.blocks)-1]
		c.mu.Unlock()
		writeJSON(w, b)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/blocks/"):
		c.count("block")
		h, err := strconv.ParseUint(strings.TrimPrefix(path, "/blocks/"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid block number")
			return
		}
		c.mu.Lock()
		if h >= uint64(len(c.blocks)) {
			c.mu.Unlock()
			writeError(w, http.StatusBadRequest, "block not found")
			return
		}
		b := c.blocks[h]
		c.mu.Unlock()
		writeJSON(w, b)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/accounts/") && strings.HasSuffix(path, "/balance-info"):
		c.count("balance")
		c.serveBalance(w, r)

	case r.Method == http.MethodGet && path == "/transaction/material":
		c.count("material")
		c.serveMaterial(w, r)

	case r.Method == http.MethodPost && path == "/transaction":
		c.count("submit")
		c.serveSubmit(w, r)

	default:
		http.NotFound(w, r)
	}
}

func (c *Chain) count(route string) {
	c.mu.Lock()
	c.requests[route]++
	c.mu.Unlock()
}

func (c *Chain) at(r *http.Request) (sidecar.At, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := uint64(len(c.blocks) - 1)
	if s := r.URL.Query().Get("at"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil || v > h {
			return sidecar.At{}, false
		}
		h = v
	}
	return sidecar.At{Hash: blockHash(h), Height: h}, true
}

func (c *Chain) serveBalance(w http.ResponseWriter, r *http.Request) {
	at, ok := c.at(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid at")
		return
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/accounts/"), "/balance-info")
	account, err := types.ParseAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account")
		return
	}
	c.mu.Lock()
	info := sidecar.BalanceInfo{
		At:    at,
		Nonce: c.nonces[account],
		Free:  c.free[account],
	}
	c.mu.Unlock()
	writeJSON(w, info)
}

func (c *Chain) serveMaterial(w http.ResponseWriter, r *http.Request) {
	at, ok := c.at(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid at")
		return
	}
	m := sidecar.TransactionMaterial{
		At:          at,
		GenesisHash: blockHash(0),
		ChainName:   "Development",
		SpecName:    "polkadot",
		SpecVersion: c.SpecVersion,
		TxVersion:   c.TxVersion,
	}
	if r.URL.Query().Get("noMeta") != "true" {
		m.Metadata = c.metaHex
	}
	writeJSON(w, m)
}

func (c *Chain) serveSubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tx string `json:"tx"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	raw, err := types.DecodeHex(body.Tx)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid hex")
		return
	}
	tx, err := extrinsic.DecodeSigned(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid extrinsic: "+err.Error())
		return
	}
	if _, err := extrinsic.Decode(c.registry, tx.Call); err != nil {
		writeError(w, http.StatusInternalServerError, "1010: Invalid Transaction: Call")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	head := uint64(len(c.blocks) - 1)
	anchor := blockHash(0)
	// A mortal era anchors at the most recent block matching its phase; once
	// the window has moved on the signature no longer verifies.
	if !tx.Era.IsImmortal() {
		anchor = blockHash(tx.Era.Birth(head))
	}
	ctx := extrinsic.Context{
		SpecVersion: c.SpecVersion,
		TxVersion:   c.TxVersion,
		GenesisHash: blockHash(0),
		BlockHash:   anchor,
	}
	if !tx.Verify(ctx) {
		writeError(w, http.StatusInternalServerError, "1010: Invalid Transaction: BadProof")
		return
	}

	expected := c.nonces[tx.Signer]
	for _, p := range c.pending {
		if p.Signer == tx.Signer {
			expected++
		}
	}
	if tx.Nonce < expected {
		writeError(w, http.StatusInternalServerError, "1010: Invalid Transaction: Stale")
		return
	}
	if tx.Nonce > expected {
		writeError(w, http.StatusInternalServerError, "1010: Invalid Transaction: Future")
		return
	}

	c.pending = append(c.pending, tx)
	c.submitted = append(c.submitted, tx)
	writeJSON(w, sidecar.SubmitResult{Hash: tx.Hash()})
}

// ── block content helpers ───────────────────────────────────────────────

// SuccessRuntime records every extrinsic as successful with a single
// system.ExtrinsicSuccess event.
func SuccessRuntime(_ uint64, _ int, tx *extrinsic.Signed, reg *metadata.Registry) sidecar.Extrinsic {
	return Ext(MethodOf(tx, reg), tx.Signer, Ev("system", "ExtrinsicSuccess"))
}

// Ext builds a signed block extrinsic with the given events. Success is
// false when any event is system.ExtrinsicFailed.
func Ext(method sidecar.FrameMethod, signer types.Address, events ...sidecar.Event) sidecar.Extrinsic {
	x := sidecar.Extrinsic{
		Method:    method,
		Signature: &sidecar.Signature{Signature: "0x", Signer: sidecar.Signer(signer.String())},
		Args:      json.RawMessage("{}"),
		Tip:       "0",
		Events:    events,
		Success:   true,
		PaysFee:   true,
	}
	if x.Events == nil {
		x.Events = []sidecar.Event{}
	}
	for _, e := range events {
		if e.Method.Method == "ExtrinsicFailed" {
			x.Success = false
		}
	}
	return x
}

// Inherent builds an unsigned block extrinsic, such as timestamp.set.
func Inherent(pallet, method string, events ...sidecar.Event) sidecar.Extrinsic {
	if events == nil {
		events = []sidecar.Event{}
	}
	return sidecar.Extrinsic{
		Method:  sidecar.FrameMethod{Pallet: pallet, Method: method},
		Args:    json.RawMessage("{}"),
		Events:  events,
		Success: true,
	}
}

// Method is shorthand for a FrameMethod.
func Method(pallet, method string) sidecar.FrameMethod {
	return sidecar.FrameMethod{Pallet: pallet, Method: method}
}

// Ev builds an event; each data item is JSON encoded. Addresses and hashes
// encode the way the sidecar renders them.
func Ev(pallet, method string, data ...interface{}) sidecar.Event {
	e := sidecar.Event{
		Method: sidecar.FrameMethod{Pallet: pallet, Method: method},
		Data:   make([]json.RawMessage, 0, len(data)),
	}
	for _, d := range data {
		raw, err := json.Marshal(d)
		if err != nil {
			panic(fmt.Sprintf("sidecartest: marshal event data: %v", err))
		}
		e.Data = append(e.Data, raw)
	}
	return e
}

// MethodOf returns the sidecar rendering of tx's call, such as
// proxy.proxyAnnounced.
func MethodOf(tx *extrinsic.Signed, reg *metadata.Registry) sidecar.FrameMethod {
	if len(tx.Call) >= 2 {
		if ref, ok := reg.CallByIndex([2]byte{tx.Call[0], tx.Call[1]}); ok {
			return sidecar.FrameMethod{Pallet: lowerFirst(ref.Pallet), Method: camel(ref.Name)}
		}
	}
	return sidecar.FrameMethod{Pallet: "unknown", Method: "unknown"}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func camel(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

func blockHash(h uint64) types.Hash {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], h)
	return crypto.Hash(buf[:])
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"code": status, "error": msg})
}
