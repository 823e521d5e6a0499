//go:build !unix

package toolexec

import "os/exec"

// killGroup leaves the default cancellation, which kills only the direct
// child.
func killGroup(c *exec.Cmd) {}
