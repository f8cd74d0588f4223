//go:build !windows

package supervisor

import (
	"errors"

	"golang.org/x/sys/unix"
)

var (
	sigTerm = unix.SIGTERM
	sigKill = unix.SIGKILL
)

// sendSignal targets the whole process group when pid leads one, so
// children of a supervised shell go down with it. ESRCH means already gone.
func sendSignal(pid int, sig unix.Signal) error {
	target := pid
	if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid {
		target = -pid
	}
	err := unix.Kill(target, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
