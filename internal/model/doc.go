// Package model defines the trainable-model capability consumed by the
// training loop, plus the built-in feedforward backend.
//
// # Capability Surface
//
// Builder turns (shape, architecture, hyperparameters, seed) into a
// Handle. A Handle mutates its parameters in place via Step, reports
// metrics without mutation via Evaluate, and moves whole parameter sets
// in and out through Snapshot and Restore. Handles are not safe for
// concurrent use; the training loop serializes all calls.
//
// # Backend
//
// The default backend is a two-class feedforward softmax classifier with
// optional hidden layers, leaky-ReLU activations, cross-entropy loss, and
// SGD with classical momentum. Weights are float64; inputs arrive as
// float32 rows. Initialization is a pure function of the seed.
//
// # Checkpoints
//
// A checkpoint is a directory holding checkpoint.json next to params.npy
// and velocity.npy. Directories are staged and renamed into place, so a
// half-written checkpoint is never visible.
package model
