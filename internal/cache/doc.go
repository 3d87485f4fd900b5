// Package cache owns the on-disk media cache under StoragePath/cache. Every
// target URL maps to one deterministic file name (SHA-1 fingerprint plus the
// original extension); while a download is filling it the bytes live in a
// sibling ".tmp" file that is renamed into place once complete. PartialSource
// lets a reader follow a file that is still growing, and Evictor keeps the
// number of completed files under the configured ceiling. The filesystem is
// the only synchronization point for file content; the Store only tracks which
// files are currently being read so eviction can leave them alone.
package cache
