package types

import "fmt"

// Timepoint identifies exactly one extrinsic in chain history.
// It is used to reference a pending multisig operation.
type Timepoint struct {
	Height uint32 `json:"height"`
	Index  uint32 `json:"index"`
}

// String returns "height-index".
func (t Timepoint) String() string {
	return fmt.Sprintf("%d-%d", t.Height, t.Index)
}
