//go:build !darwin && !linux

package storage

import "fmt"

// Platforms without a statfs binding skip the network-filesystem check;
// the caller treats a detection error as "cannot verify" and proceeds.
func detectFilesystemType(path string) (string, error) {
	return "", fmt.Errorf("filesystem type detection unsupported on this platform")
}
