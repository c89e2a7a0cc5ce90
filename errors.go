// errors.go
package tiercache

import "errors"

var (
	ErrInvalidKey         = errors.New("invalid cache key")
	ErrInvalidConfig      = errors.New("invalid cache configuration")
	ErrNotConfigured      = errors.New("cache level not configured")
	ErrSerialization      = errors.New("cache value serialization failed")
	ErrBackendUnavailable = errors.New("cache backend unavailable")
	ErrClosed             = errors.New("cache backend closed")
)
