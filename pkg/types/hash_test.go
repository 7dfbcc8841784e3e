package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHash_String(t *testing.T) {
	var h Hash
	s := h.String()
	if s != "0x"+strings.Repeat("0", 64) {
		t.Errorf("zero hash String() = %s", s)
	}

	h[0] = 0xab
	h[31] = 0xcd
	s = h.String()
	if !strings.HasPrefix(s, "0xab") || !strings.HasSuffix(s, "cd") {
		t.Errorf("String() = %s", s)
	}
}

func TestHexToHash(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"prefixed", "0x" + strings.Repeat("ab", 32), false},
		{"bare", strings.Repeat("01", 32), false},
		{"short", "0x1234", true},
		{"bad hex", "0x" + strings.Repeat("zz", 32), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := HexToHash(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("HexToHash(%q) err = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestHash_UnmarshalJSON(t *testing.T) {
	var h Hash
	if err := json.Unmarshal([]byte(`"0x`+strings.Repeat("11", 32)+`"`), &h); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if h[0] != 0x11 || h[31] != 0x11 {
		t.Errorf("unexpected hash %s", h)
	}

	if err := json.Unmarshal([]byte(`""`), &h); err != nil {
		t.Fatalf("unmarshal empty: %v", err)
	}
	if !h.IsZero() {
		t.Error("empty string should decode to zero hash")
	}
}
