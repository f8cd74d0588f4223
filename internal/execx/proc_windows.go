//go:build windows

package execx

import "os/exec"

func killGroupOnCancel(cmd *exec.Cmd) {}

func SetDetached(cmd *exec.Cmd) {}
