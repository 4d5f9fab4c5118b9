// Package augment draws white square markers onto decoded images and
// labels the result, producing the positive/negative examples the
// classifier trains on.
//
// Apply is pure: the per-image random stream is derived from the global
// seed and the image ID, so a marker's presence, size, and position
// depend only on (seed, ID) and never on call order or parallelism.
// Rebuilding a dataset from the same inputs and seed reproduces every
// marker exactly.
package augment
