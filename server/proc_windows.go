//go:build windows

package server

import (
	"os/exec"
)

func shellCommand(command string) *exec.Cmd {
	return exec.Command("cmd", "/C", command)
}

func setProcessGroup(cmd *exec.Cmd) {}

func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func kill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
