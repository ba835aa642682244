// Package util holds small helpers shared across packages
package util

import (
	"os"
	"strings"
)

// IsRunningInDocker reports whether the process runs inside a container
func IsRunningInDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	b, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false
	}

	s := string(b)
	return strings.Contains(s, "docker") || strings.Contains(s, "containerd")
}
