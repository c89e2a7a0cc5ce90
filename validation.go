// validation.go
package tiercache

import (
	"fmt"

	"github.com/gobwas/glob"
)

// MaxKeyLength is the longest key accepted by the Coordinator.
const MaxKeyLength = 1024

// ValidateKey rejects keys that no backend can store.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key length %d exceeds %d", ErrInvalidKey, len(key), MaxKeyLength)
	}
	return nil
}

// CompilePattern compiles a glob-style key pattern. "*" matches any run of
// characters, "?" a single character, "[abc]" a class. An empty pattern is
// treated as "*".
func CompilePattern(pattern string) (func(string) bool, error) {
	if pattern == "" || pattern == "*" {
		return func(string) bool { return true }, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: bad key pattern %q: %v", ErrInvalidKey, pattern, err)
	}
	return g.Match, nil
}

// MatchPattern reports whether key matches the glob pattern. Malformed
// patterns match nothing.
func MatchPattern(pattern, key string) bool {
	match, err := CompilePattern(pattern)
	if err != nil {
		return false
	}
	return match(key)
}
