//go:build windows

package procutil

import "os/exec"

// SetProcessGroup is a no-op on Windows; job objects rather than process
// groups are the native grouping primitive there, and this service does not
// currently use them.
func SetProcessGroup(_ *exec.Cmd) {}
