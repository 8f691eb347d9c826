//go:build dsaadebug

package dsaa

// Contract violations by clients panic.
const debug = true
