package cache

import "github.com/CreativeUnicorns/tiercache"

var (
	_ tiercache.Backend = (*MemoryBackend)(nil)
	_ tiercache.Backend = (*DiskBackend)(nil)
	_ tiercache.Backend = (*RemoteBackend)(nil)
)
