// Package imagestore enumerates raw image files and decodes them into
// normalized float32 tensors for dataset construction.
//
// List pins a lexical filename order so downstream shuffling is the only
// source of randomness. DecodeAll fans decoding out across a bounded
// worker pool while preserving input order in its results; files that
// fail to decode are skipped and reported, never fatal.
//
// An optional on-disk cache under <cache_dir>/decode stores decoded
// pixels keyed by (absolute path, target resolution) so repeated
// dataset builds skip the decode and resize work. Corrupt cache entries
// are ignored and rewritten. Editing a raw file in place without
// changing its path requires clearing the cache directory.
package imagestore
