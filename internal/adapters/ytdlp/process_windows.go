//go:build windows

package ytdlp

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}

// Windows has no SIGTERM for console processes; both steps kill.
func signalTerminate(cmd *exec.Cmd) error {
	return signalKill(cmd)
}

func signalKill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
