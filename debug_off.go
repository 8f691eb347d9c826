//go:build !dsaadebug

package dsaa

const debug = false
