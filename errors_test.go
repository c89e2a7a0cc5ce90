package tiercache

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorVariables(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"ErrInvalidKey", ErrInvalidKey, "invalid cache key"},
		{"ErrInvalidConfig", ErrInvalidConfig, "invalid cache configuration"},
		{"ErrNotConfigured", ErrNotConfigured, "cache level not configured"},
		{"ErrSerialization", ErrSerialization, "cache value serialization failed"},
		{"ErrBackendUnavailable", ErrBackendUnavailable, "cache backend unavailable"},
		{"ErrClosed", ErrClosed, "cache backend closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected error message '%s', got '%s'", tt.expected, tt.err.Error())
			}
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	err := fmt.Errorf("%w: max size must be positive", ErrInvalidConfig)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected wrapped error to match ErrInvalidConfig, got %v", err)
	}
}
