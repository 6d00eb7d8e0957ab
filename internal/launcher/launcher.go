// Package launcher builds and spawns child shell processes under a
// privilege and environment-delivery policy, returning a handle that
// streams merged output and reports the exit status asynchronously.
package launcher

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jkaninda/amri/internal/shellenv"
)

// Privilege selects who the child shell runs as.
type Privilege struct {
	// User to switch to. Empty = run as the current user.
	User string
	// SuPath is the su-like wrapper executable used when switching user.
	SuPath string
}

// SwitchesUser reports whether the policy runs the shell through the wrapper.
func (p Privilege) SwitchesUser() bool { return p.User != "" }

// Spec describes one shell process to launch.
type Spec struct {
	ShellPath string
	Dir       string
	Login     bool
	Privilege Privilege
	Env       *shellenv.Resolved
	Delivery  shellenv.Delivery
}

// Argv returns the executable path and argument vector for the spec.
//
//	self,  login:  shellPath ["-"]
//	self,  plain:  shellPath []
//	user,  login:  suPath    ["-s", shellPath, "-", user]
//	user,  plain:  suPath    ["-s", shellPath, user]
func Argv(spec Spec) (string, []string) {
	if spec.Privilege.SwitchesUser() {
		if spec.Login {
			return spec.Privilege.SuPath, []string{"-s", spec.ShellPath, "-", spec.Privilege.User}
		}
		return spec.Privilege.SuPath, []string{"-s", spec.ShellPath, spec.Privilege.User}
	}
	if spec.Login {
		return spec.ShellPath, []string{"-"}
	}
	return spec.ShellPath, nil
}

// Launcher spawns shell processes.
type Launcher struct {
	logger *slog.Logger
}

// New creates a Launcher.
func New(logger *slog.Logger) *Launcher {
	return &Launcher{logger: logger}
}

// Launch spawns one shell process and feeds it preamble on its input
// stream. With native delivery the resolved environment and working
// directory are set through the process-creation API and the preamble is
// sent unmodified. With inline delivery the process inherits no explicit
// overrides and the input stream is prefixed with export statements and a
// cd line, because a user-switching wrapper may discard an externally
// supplied environment table.
//
// The returned handle is live before any output has necessarily arrived.
func (l *Launcher) Launch(preamble string, spec Spec) (*Handle, error) {
	path, args := Argv(spec)

	input := preamble
	var env []string
	dir := ""
	if spec.Delivery == shellenv.DeliveryInline {
		if spec.Env != nil {
			input = spec.Env.InlineScript(spec.Dir) + preamble
		}
	} else {
		if spec.Env != nil {
			env = spec.Env.Apply(os.Environ())
		}
		dir = spec.Dir
	}

	h, err := spawn(path, args, dir, env)
	if err != nil {
		return nil, fmt.Errorf("spawning shell %s: %w", path, err)
	}

	l.logger.Debug("shell launched",
		slog.String("path", path),
		slog.Int("pid", h.PID()),
		slog.Bool("login", spec.Login),
		slog.Bool("switch_user", spec.Privilege.SwitchesUser()),
		slog.String("delivery", string(spec.Delivery)),
	)

	if input != "" {
		if err := h.Write([]byte(input)); err != nil {
			h.Close()
			return nil, fmt.Errorf("writing shell preamble: %w", err)
		}
	}
	return h, nil
}
