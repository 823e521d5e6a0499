//go:build unix

package toolexec

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// killGroup runs the tool in its own process group and, on cancellation,
// kills the whole group so the compilers cargo spawns die with it.
func killGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return unix.Kill(-c.Process.Pid, unix.SIGKILL)
	}
}
