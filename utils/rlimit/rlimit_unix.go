//go:build !windows

// Package rlimit raises the process's open-file limit at startup, since
// a busy cache can easily hold one fd per in-flight GET plus the
// SQLite index's own handles.
package rlimit

import (
	"log"
	"syscall"
)

// Raise sets RLIMIT_NOFILE's soft limit to its hard limit.
func Raise() {
	var limits syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limits); err != nil {
		log.Println("failed to read RLIMIT_NOFILE:", err)
		return
	}

	limits.Cur = limits.Max

	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &limits); err != nil {
		log.Println("failed to raise RLIMIT_NOFILE:", err)
	}
}
