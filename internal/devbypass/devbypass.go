//go:build !devbypass

// Package devbypass reports whether the development identity bypass was compiled in.
// Build with -tags devbypass to include it; release builds cannot reach it.
package devbypass

// Compiled is true only in binaries built with the devbypass tag.
const Compiled = false
