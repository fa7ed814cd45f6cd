package session

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// terminalEnvVars are session identifiers exported by terminal emulators,
// tried in order.
var terminalEnvVars = []string{
	"TERM_SESSION_ID",
	"ITERM_SESSION_ID",
	"KITTY_WINDOW_ID",
	"WEZTERM_PANE",
	"ALACRITTY_WINDOW_ID",
	"WINDOWID",
}

// ShellID returns a stable identifier for the invoking shell.
//
// The parent PID alone is unreliable: interactive shells fork per
// command, so each invocation may observe a different parent. Sources
// are tried in decreasing order of stability:
//
//  1. AIAIM_SHELL_ID, for users who export it from their shell rc
//  2. the controlling terminal's device name
//  3. terminal emulator session variables
//  4. the grandparent PID, usually the interactive shell itself
//  5. the parent PID
func ShellID() string {
	if id := os.Getenv("AIAIM_SHELL_ID"); id != "" {
		return id
	}

	if name := ttyName(); name != "" {
		return "tty:" + name
	}

	for _, key := range terminalEnvVars {
		if v := os.Getenv(key); v != "" {
			return key + ":" + v
		}
	}

	if pid, ok := grandparentPID(); ok {
		return fmt.Sprintf("shell:%d", pid)
	}

	return strconv.Itoa(os.Getppid())
}

// ttyName resolves the controlling terminal's device path, trying the
// standard streams first and /dev/tty as a fallback for when all three
// are redirected.
func ttyName() string {
	for _, f := range []*os.File{os.Stdin, os.Stdout, os.Stderr} {
		if name := deviceName(f); name != "" {
			return name
		}
	}

	tty, err := os.Open("/dev/tty")
	if err != nil {
		return ""
	}
	defer tty.Close()
	return deviceName(tty)
}

// deviceName returns f's terminal device path, or "" when f is not a
// terminal. /dev/null is a character device but identifies nothing.
func deviceName(f *os.File) string {
	info, err := f.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice == 0 {
		return ""
	}
	name, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", f.Fd()))
	if err != nil || !strings.HasPrefix(name, "/dev/") || name == "/dev/null" {
		return ""
	}
	return name
}

// grandparentPID walks one step past the parent in /proc. The comm field
// in stat may itself contain spaces and parentheses, so parsing starts
// after the last closing paren.
func grandparentPID() (int, bool) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", os.Getppid()))
	if err != nil {
		return 0, false
	}

	s := string(data)
	i := strings.LastIndexByte(s, ')')
	if i < 0 {
		return 0, false
	}
	fields := strings.Fields(s[i+1:])
	if len(fields) < 2 {
		return 0, false
	}

	pid, err := strconv.Atoi(fields[1])
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// AliveShell is the default liveness check for Store.PruneShells. Only
// bare-PID identifiers can be probed; identifiers from the other sources
// are presumed alive.
func AliveShell(shellID string) bool {
	id := shellID
	if rest, ok := strings.CutPrefix(shellID, "shell:"); ok {
		id = rest
	}
	pid, err := strconv.Atoi(id)
	if err != nil {
		return true
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}
