// Package config reads the stencil TOML configuration file and turns it
// into a validated Config.
//
// Loading is a single pass: defaults first, then the file, then
// environment fallbacks (FLICKR_API_KEY), then normalization. Paths come
// back absolute with ~ expanded, the log format canonical, and every
// numeric knob range-checked, so callers never re-validate what they
// read from here.
package config
