// Package cache defines the Resource Store: a keyed container of response
// snapshots partitioned by generation name. Backends (filesystem, leveldb,
// sqlite, redis, memory) share one Store contract so the generation manager
// and request router never depend on a specific engine. Entries are encoded
// with a pluggable codec (msgpack or cbor) and may be fronted by an in-memory
// ristretto layer for hot reads.
package cache
