package launcher

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// outputChunkSize is the read buffer for the merged output stream.
const outputChunkSize = 4096

// Handle is one live shell process: a writable input stream, a channel of
// merged stdout/stderr chunks, the OS process id, and an exit-status
// channel populated exactly once, after every output chunk has been
// delivered. A Handle is owned by exactly one executor.
type Handle struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   chan []byte
	exit  chan int
	pid   int

	closeOnce sync.Once
}

// spawn starts the process with both stdout and stderr attached to one
// pipe, in its own process group so signals reach descendants too.
func spawn(path string, args []string, dir string, env []string) (*Handle, error) {
	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}
	// The child holds its own copy of the write end.
	pw.Close()

	h := &Handle{
		cmd:   cmd,
		stdin: stdin,
		out:   make(chan []byte, 16),
		exit:  make(chan int, 1),
		pid:   cmd.Process.Pid,
	}

	readerDone := make(chan struct{})
	go h.readOutput(pr, readerDone)
	go h.waitExit(readerDone)
	return h, nil
}

// readOutput streams the merged pipe into the output channel in arrival
// order and closes the channel at EOF.
func (h *Handle) readOutput(pr *os.File, done chan<- struct{}) {
	defer close(done)
	defer close(h.out)
	defer pr.Close()

	buf := make([]byte, outputChunkSize)
	for {
		n, err := pr.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.out <- chunk
		}
		if err != nil {
			return
		}
	}
}

// waitExit reaps the process and publishes its status. It waits for the
// reader first so the exit status is observed only after all output.
func (h *Handle) waitExit(readerDone <-chan struct{}) {
	<-readerDone
	h.exit <- exitStatus(h.cmd.Wait())
	close(h.exit)
}

// PID returns the OS process id of the shell.
func (h *Handle) PID() int { return h.pid }

// Output returns the merged stdout/stderr chunk stream. The channel is
// closed when the process closes its output, before the exit status is
// published.
func (h *Handle) Output() <-chan []byte { return h.out }

// Exited returns the exit-status channel. It yields exactly one value.
func (h *Handle) Exited() <-chan int { return h.exit }

// Write sends bytes to the shell's input stream.
func (h *Handle) Write(p []byte) error {
	_, err := h.stdin.Write(p)
	return err
}

// WriteLine sends one line of input, appending the newline.
func (h *Handle) WriteLine(s string) error {
	return h.Write(append([]byte(s), '\n'))
}

// Close shuts the input stream. The shell sees EOF and exits on its own
// schedule; callers that need it gone now signal the process group instead.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.stdin.Close()
	})
	return err
}

// exitStatus maps a Wait result to the shell status encoding: the exit
// code for normal termination, 128+signal when a signal killed the process.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 128 + int(ws.Signal())
			}
			return ws.ExitStatus()
		}
		return ee.ExitCode()
	}
	return 127
}
