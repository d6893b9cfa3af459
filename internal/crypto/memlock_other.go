//go:build !linux

package crypto

func lockMemory(b []byte) bool { return false }

func unlockMemory(b []byte) {}
