package credential

import (
	"encoding/base64"
	"testing"
)

func TestNewClassroomCode_Format(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := NewClassroomCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != CodeLength {
			t.Fatalf("code %q: want %d digits", code, CodeLength)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("code %q contains non-digit %q", code, r)
			}
		}
	}
}

func TestNewQRToken_Entropy(t *testing.T) {
	tok, err := NewQRToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("token %q is not base64url: %v", tok, err)
	}
	if len(raw)*8 < 128 {
		t.Fatalf("token carries %d bits, want >= 128", len(raw)*8)
	}
}

func TestNewQRToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := NewQRToken()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}
