package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
)

// Channel describes one supported browser family. Launch strategies are a
// tagged variant: each channel maps to one debug-argument builder instead of
// an inheritance hierarchy.
type Channel struct {
	Name    string
	Process string

	// debugArgs builds the command line that starts this family with the
	// remote-debugging endpoint enabled. Nil for families the attach
	// protocol cannot drive.
	debugArgs func(port int) []string
}

func chromiumDebugArgs(port int) []string {
	return []string{
		"--remote-debugging-port=" + strconv.Itoa(port),
		"--no-first-run",
		"--no-default-browser-check",
	}
}

var channels = map[string]Channel{
	"msedge": {Name: "msedge", Process: "msedge.exe", debugArgs: chromiumDebugArgs},
	"chrome": {Name: "chrome", Process: "chrome.exe", debugArgs: chromiumDebugArgs},
	"brave":  {Name: "brave", Process: "brave.exe", debugArgs: chromiumDebugArgs},
	// Firefox has no CDP-compatible attach path; it is launch-only.
	"firefox": {Name: "firefox", Process: "firefox.exe"},
}

// LookupChannel returns the channel descriptor for a configured preference.
func LookupChannel(name string) (Channel, bool) {
	ch, ok := channels[strings.ToLower(name)]
	return ch, ok
}

// DebugArgs builds the relaunch command line for the channel owning the
// given process name. Falls back to the chromium arguments, which cover
// every process the attach protocol can reach.
func DebugArgs(processName string, port int) []string {
	for _, ch := range channels {
		if strings.EqualFold(ch.Process, processName) {
			if ch.debugArgs == nil {
				return nil
			}
			return ch.debugArgs(port)
		}
	}
	return chromiumDebugArgs(port)
}

// Registry is the OS browser-registration lookup the resolver and the
// attach protocol depend on. It is injected so tests can fake it and so
// the rest of the code never touches ambient registry state.
type Registry interface {
	// DefaultBrowser returns the executable registered as the https
	// handler. Absence is a valid result: all strings empty, err nil.
	DefaultBrowser() (exePath, processName, appID string)

	// ChannelPath resolves a browser family by name in the secondary
	// per-application registration location. Empty when not installed.
	ChannelPath(ch Channel) string

	// DebugOverrideActive reports whether the persistent user-level
	// launch-command override carries the remote-debugging flag.
	DebugOverrideActive(exePath string) bool

	// EnableDebugOverride installs the launch-command override. Enabling
	// twice is a no-op.
	EnableDebugOverride(exePath string, port int) error

	// DisableDebugOverride removes the override. Idempotent.
	DisableDebugOverride(exePath string) error
}

// regTool reads Windows browser registrations through reg.exe, which keeps
// the package buildable everywhere (reg.exe is also reachable from WSL).
// On other platforms every lookup degrades to rod's launcher.LookPath.
type regTool struct{}

// NewRegistry returns the platform registry capability.
func NewRegistry() Registry { return &regTool{} }

const (
	urlAssocKey = `HKCU\Software\Microsoft\Windows\Shell\Associations\UrlAssociations\https\UserChoice`
	overrideKey = `HKCU\Software\Classes\FSEFetchDebug`
)

func (r *regTool) DefaultBrowser() (string, string, string) {
	if runtime.GOOS != "windows" {
		if path, ok := launcher.LookPath(); ok {
			return path, filepath.Base(path), ""
		}
		return "", "", ""
	}

	progID := regQueryValue(urlAssocKey, "ProgId")
	if progID == "" {
		return "", "", ""
	}
	cmd := regQueryValue(`HKCR\`+progID+`\shell\open\command`, "")
	if cmd == "" {
		cmd = regQueryValue(`HKCU\Software\Classes\`+progID+`\shell\open\command`, "")
	}
	exe := extractExeFromCommand(cmd)
	if exe == "" {
		return "", "", progID
	}
	return exe, filepath.Base(exe), progID
}

func (r *regTool) ChannelPath(ch Channel) string {
	if runtime.GOOS != "windows" {
		if path, ok := launcher.LookPath(); ok {
			return path
		}
		return ""
	}
	for _, hive := range []string{"HKLM", "HKCU"} {
		key := hive + `\SOFTWARE\Microsoft\Windows\CurrentVersion\App Paths\` + ch.Process
		if path := regQueryValue(key, ""); path != "" {
			if exe := extractExeFromCommand(path); exe != "" {
				return exe
			}
		}
	}
	return ""
}

func (r *regTool) DebugOverrideActive(exePath string) bool {
	cmd := regQueryValue(overrideKey+`\shell\open\command`, "")
	return cmd != "" &&
		strings.Contains(cmd, "--remote-debugging-port") &&
		strings.Contains(strings.ToLower(cmd), strings.ToLower(filepath.Base(exePath)))
}

func (r *regTool) EnableDebugOverride(exePath string, port int) error {
	if r.DebugOverrideActive(exePath) {
		return nil
	}
	value := fmt.Sprintf(`"%s" --remote-debugging-port=%d "%%1"`, exePath, port)
	_, err := runReg("add", overrideKey+`\shell\open\command`, "/ve", "/d", value, "/f")
	return err
}

func (r *regTool) DisableDebugOverride(string) error {
	if regQueryValue(overrideKey+`\shell\open\command`, "") == "" {
		return nil
	}
	_, err := runReg("delete", overrideKey, "/f")
	return err
}

// runReg invokes reg.exe and returns its combined output.
func runReg(args ...string) (string, error) {
	out, err := exec.Command("reg.exe", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("reg.exe %s: %w (output=%q)", args[0], err, out)
	}
	return string(out), nil
}

// regQueryValue reads a single registry value. valueName "" reads the
// default value. Missing keys yield "".
func regQueryValue(key, valueName string) string {
	args := []string{"query", key}
	if valueName == "" {
		args = append(args, "/ve")
	} else {
		args = append(args, "/v", valueName)
	}
	out, err := runReg(args...)
	if err != nil {
		return ""
	}
	// Output line shape:  <name>    REG_SZ    <data>
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		idx := strings.Index(line, "REG_SZ")
		if idx < 0 {
			continue
		}
		return strings.TrimSpace(line[idx+len("REG_SZ"):])
	}
	return ""
}

// extractExeFromCommand pulls the executable path out of a registry command
// string such as `"C:\...\msedge.exe" --single-argument %1`.
func extractExeFromCommand(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return ""
	}
	var path string
	if strings.HasPrefix(cmd, `"`) {
		if end := strings.Index(cmd[1:], `"`); end > 0 {
			path = cmd[1 : end+1]
		}
	} else {
		path = strings.Fields(cmd)[0]
	}
	if path == "" || !strings.EqualFold(filepath.Ext(path), ".exe") {
		return ""
	}
	if _, err := os.Stat(path); err != nil && runtime.GOOS == "windows" {
		return ""
	}
	return path
}
