package tiercache

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	if err := ValidateKey("media:42"); err != nil {
		t.Errorf("Expected valid key, got error: %v", err)
	}

	err := ValidateKey("")
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey for empty key, got: %v", err)
	}

	err = ValidateKey(strings.Repeat("k", MaxKeyLength+1))
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey for oversized key, got: %v", err)
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"*", "anything", true},
		{"", "anything", true},
		{"user:*", "user:1", true},
		{"user:*", "session:1", false},
		{"*:profile", "user/42:profile", true},
		{"item?", "item1", true},
		{"item?", "item12", false},
		{"[ab]x", "bx", true},
		{"[ab]x", "cx", false},
		{"exact", "exact", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.key, func(t *testing.T) {
			if got := MatchPattern(tt.pattern, tt.key); got != tt.want {
				t.Errorf("MatchPattern(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
			}
		})
	}
}

func TestCompilePattern_Invalid(t *testing.T) {
	_, err := CompilePattern("[unterminated")
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey for malformed pattern, got: %v", err)
	}
	if MatchPattern("[unterminated", "x") {
		t.Errorf("Expected malformed pattern to match nothing")
	}
}
