// Package tiercache provides a tiered cache coordinator that fronts several
// heterogeneous backends (bounded in-process memory, on-disk records, SQL tables,
// a remote Redis server) behind one uniform contract.
//
// Lookups walk the tiers fastest first and backfill faster tiers on a hit,
// writes go through to every enabled tier, and per-tier hit/miss statistics are
// kept by the Coordinator. Concrete backends live in the cache and storage
// subpackages; the Coordinator only depends on the Backend interface. Package
// api serves a Coordinator over HTTP, and cmd/tiercache-server wires it all up
// from flags.
package tiercache
