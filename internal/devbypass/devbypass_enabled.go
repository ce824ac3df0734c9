//go:build devbypass

package devbypass

// Compiled is true only in binaries built with the devbypass tag.
const Compiled = true
