//go:build linux

// Package signals translates between unix signal names and numbers and
// renders shell exit statuses, including the 128+signal encoding produced
// by signal-caused termination. The name table follows Linux numbering
// (SIGSTKFLT, SIGPWR), hence the build constraint.
package signals

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"
)

// Signal is an OS signal number.
type Signal syscall.Signal

// names lists the standard unix signals in number order, 1-based.
// Index 0 is unused.
var names = []string{
	"",
	"SIGHUP",    // 1
	"SIGINT",    // 2
	"SIGQUIT",   // 3
	"SIGILL",    // 4
	"SIGTRAP",   // 5
	"SIGABRT",   // 6
	"SIGBUS",    // 7
	"SIGFPE",    // 8
	"SIGKILL",   // 9
	"SIGUSR1",   // 10
	"SIGSEGV",   // 11
	"SIGUSR2",   // 12
	"SIGPIPE",   // 13
	"SIGALRM",   // 14
	"SIGTERM",   // 15
	"SIGSTKFLT", // 16
	"SIGCHLD",   // 17
	"SIGCONT",   // 18
	"SIGSTOP",   // 19
	"SIGTSTP",   // 20
	"SIGTTIN",   // 21
	"SIGTTOU",   // 22
	"SIGURG",    // 23
	"SIGXCPU",   // 24
	"SIGXFSZ",   // 25
	"SIGVTALRM", // 26
	"SIGPROF",   // 27
	"SIGWINCH",  // 28
	"SIGIO",     // 29
	"SIGPWR",    // 30
	"SIGSYS",    // 31
}

// Parse resolves a signal from its name ("SIGKILL"), short name ("KILL"),
// or decimal number ("9").
func Parse(s string) (Signal, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty signal name")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n >= len(names) {
			return 0, fmt.Errorf("signal number %d out of range", n)
		}
		return Signal(n), nil
	}
	if !strings.HasPrefix(s, "SIG") {
		s = "SIG" + s
	}
	for n, name := range names {
		if name == s {
			return Signal(n), nil
		}
	}
	return 0, fmt.Errorf("unknown signal %q", s)
}

// Name returns the canonical name of the signal, or its decimal value
// for numbers outside the known table.
func (s Signal) Name() string {
	if int(s) >= 1 && int(s) < len(names) {
		return names[s]
	}
	return strconv.Itoa(int(s))
}

// Sys returns the signal as a syscall.Signal for delivery.
func (s Signal) Sys() syscall.Signal { return syscall.Signal(s) }

// RenderStatus renders a shell exit status for reporting. Statuses up to
// 128 render as their decimal value; above 128 the process was terminated
// by signal status-128, and that signal's name is rendered instead.
func RenderStatus(status int) string {
	if status > 128 {
		return Signal(status - 128).Name()
	}
	return strconv.Itoa(status)
}
