package multisig

import (
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

// Descriptor describes a multisig account by its members and threshold.
type Descriptor struct {
	Members   []types.Address
	Threshold int
}

// Address returns the account id the descriptor maps to.
func (d Descriptor) Address() (types.Address, error) {
	return DeriveMultisig(d.Members, d.Threshold)
}

// Others returns the sorted co-signers of signer.
func (d Descriptor) Others(signer types.Address) ([]types.Address, error) {
	return OtherSignatories(d.Members, signer)
}

// IsMember reports whether a is one of the members.
func (d Descriptor) IsMember(a types.Address) bool {
	for _, m := range d.Members {
		if m == a {
			return true
		}
	}
	return false
}
