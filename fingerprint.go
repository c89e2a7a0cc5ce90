package tiercache

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/mitchellh/hashstructure/v2"
)

// Fingerprint derives a deterministic cache key for a call to name with args.
// Each argument contributes its dynamic type and a structural hash of its
// value, so arguments with identical string forms but different types or
// shapes produce different keys. Arguments that cannot be hashed structurally
// (funcs, channels) yield ErrSerialization.
func Fingerprint(name string, args ...any) (string, error) {
	d := xxhash.New()
	var buf [8]byte

	binary.BigEndian.PutUint64(buf[:], uint64(len(args)))
	_, _ = d.Write(buf[:])

	for i, arg := range args {
		h, err := hashstructure.Hash(arg, hashstructure.FormatV2, nil)
		if err != nil {
			return "", fmt.Errorf("%w: argument %d (%T): %v", ErrSerialization, i, arg, err)
		}
		_, _ = d.WriteString(fmt.Sprintf("%T", arg))
		_, _ = d.Write([]byte{0})
		binary.BigEndian.PutUint64(buf[:], h)
		_, _ = d.Write(buf[:])
	}
	return fmt.Sprintf("%s:%016x", name, d.Sum64()), nil
}
