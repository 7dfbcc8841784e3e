// derive_key.go prints the public key and account addresses for a hex-encoded
// secp256k1 private key file.
// Usage: go run scripts/derive_key.go <keyfile>
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/Klingon-tech/proxyguard/pkg/crypto"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: derive_key <keyfile>")
		os.Exit(1)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	keyBytes, err := types.DecodeHex(strings.TrimSpace(string(data)))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	key, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer key.Zero()

	id := key.AccountID()
	fmt.Printf("pubkey=%s\n", types.EncodeHex(key.PublicKey()))
	fmt.Printf("account=%s\n", id.Hex())
	fmt.Printf("polkadot=%s\n", id.SS58(types.PolkadotPrefix))
	fmt.Printf("kusama=%s\n", id.SS58(types.KusamaPrefix))
	fmt.Printf("substrate=%s\n", id.SS58(types.SubstratePrefix))
}
