//go:build windows

package rlimit

// No file-descriptor limit to raise on windows; present so callers don't
// need a build-tag branch of their own.
func Raise() {
}
