//go:build linux

package crypto

import "golang.org/x/sys/unix"

// lockMemory pins b so it is not written to swap. Failure (e.g. RLIMIT_MEMLOCK)
// is tolerated; the buffer is still wiped on Destroy.
func lockMemory(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	return unix.Mlock(b) == nil
}

func unlockMemory(b []byte) {
	_ = unix.Munlock(b)
}
