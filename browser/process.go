package browser

import (
	"os/exec"
	"runtime"
	"strings"
)

// ProcessController abstracts the few OS process operations the attach
// protocol needs: existence check, forced termination of every instance,
// and detached relaunch.
type ProcessController interface {
	Running(processName string) bool
	KillAll(processName string) error
	Start(exePath string, args ...string) error
}

type execController struct{}

// NewProcessController returns the platform process capability.
func NewProcessController() ProcessController { return &execController{} }

func (execController) Running(processName string) bool {
	if processName == "" {
		return false
	}
	if runtime.GOOS == "windows" {
		out, err := exec.Command("tasklist", "/FI", "IMAGENAME eq "+processName, "/NH").CombinedOutput()
		if err != nil {
			return false
		}
		return strings.Contains(strings.ToLower(string(out)), strings.ToLower(processName))
	}
	name := strings.TrimSuffix(processName, ".exe")
	return exec.Command("pgrep", "-f", name).Run() == nil
}

func (execController) KillAll(processName string) error {
	if runtime.GOOS == "windows" {
		// taskkill exits non-zero when no instance exists; that is fine.
		_ = exec.Command("taskkill", "/F", "/IM", processName).Run()
		return nil
	}
	name := strings.TrimSuffix(processName, ".exe")
	_ = exec.Command("pkill", "-f", name).Run()
	return nil
}

func (execController) Start(exePath string, args ...string) error {
	cmd := exec.Command(exePath, args...)
	return cmd.Start()
}
