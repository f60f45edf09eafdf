// Package buildinfo carries version metadata stamped in at link time.
package buildinfo

// Version is overridden at build time via -ldflags.
var Version = "dev"
