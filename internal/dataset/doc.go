// Package dataset partitions labeled examples into train/validation/test
// splits, persists them as a directory artifact, and serves minibatches
// for training.
//
// # Artifact Layout
//
// A dataset directory holds six numpy arrays (images and labels per
// partition) plus metadata.json carrying the format version, image shape,
// build seed, fractions, per-partition counts, class balance, and source
// ID lists. Images are stored flat as float32 with the shape recorded in
// the metadata; labels are int32. The directory is assembled in a staging
// location and renamed into place, so a failed build leaves nothing
// behind.
//
// # Determinism
//
// Build shuffles with a seeded source and slices contiguous ranges, so
// partition membership is a pure function of the input order, the seed,
// and the fractions. Iterator reshuffles per traversal from its own
// persistent source: epoch orders differ from each other but the whole
// sequence replays identically for the same seed.
package dataset
