package crypto

import (
	"encoding/hex"
	"testing"
)

func TestHash(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{
			name:  "empty input",
			input: []byte{},
			want:  "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Hash(tt.input)
			if hex.EncodeToString(got[:]) != tt.want {
				t.Errorf("Hash(%q) = %x, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestHash512(t *testing.T) {
	got := Hash512([]byte("abc"))
	want := "ba80a53f981c4d0d6a2797b69f12f6e94c212f14685ac4b74b12bb6fdbffa2d1" +
		"7d87c5392aab792dc252d5de4533cc9518d38aa8dbf1925ab92386edd4009923"
	if hex.EncodeToString(got[:]) != want {
		t.Errorf("Hash512(abc) = %x", got)
	}
}

func TestHashConcat(t *testing.T) {
	a := []byte("modlpy/")
	b := []byte("utilisuba")
	if HashConcat(a, b) != Hash([]byte("modlpy/utilisuba")) {
		t.Error("HashConcat should equal Hash of the concatenation")
	}
	if HashConcat() != Hash(nil) {
		t.Error("HashConcat() should equal Hash of empty input")
	}
}

func TestAccountIDFromPubKey_Deterministic(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	a := AccountIDFromPubKey(key.PublicKey())
	b := AccountIDFromPubKey(key.PublicKey())
	if a != b {
		t.Error("account id should be deterministic")
	}
	if a != key.AccountID() {
		t.Error("AccountID() should match AccountIDFromPubKey")
	}
}
