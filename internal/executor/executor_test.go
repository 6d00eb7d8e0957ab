package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jkaninda/amri/internal/launcher"
	"github.com/jkaninda/amri/internal/signals"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// skipIfNoShell skips the test when no POSIX shell is available.
func skipIfNoShell(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available, skipping")
	}
	return path
}

func sigPtr(name string) *signals.Signal {
	s, err := signals.Parse(name)
	if err != nil {
		panic(err)
	}
	return &s
}

func newIsolated(t *testing.T, kill KillPolicy, timeout time.Duration) *Isolated {
	t.Helper()
	spec := launcher.Spec{ShellPath: skipIfNoShell(t)}
	return NewIsolated(launcher.New(testLogger()), spec, kill, timeout, testLogger())
}

func TestIsolatedExecute_EmptyCommand(t *testing.T) {
	e := newIsolated(t, KillPolicy{}, 10*time.Second)

	res, err := e.Execute(context.Background(), Request{Command: ""})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != 0 {
		t.Errorf("status = %d, want 0", res.Status)
	}
	if len(res.Output) != 0 {
		t.Errorf("output = %q, want empty", res.Output)
	}
	if res.TimedOut {
		t.Error("TimedOut = true, want false")
	}
	if res.InvocationID == "" {
		t.Error("missing invocation id")
	}
}

func TestIsolatedExecute_ExitStatus(t *testing.T) {
	e := newIsolated(t, KillPolicy{}, 10*time.Second)

	res, err := e.Execute(context.Background(), Request{Command: "echo before; exit 3"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != 3 {
		t.Errorf("status = %d, want 3", res.Status)
	}
	if got := string(res.Output); got != "before\n" {
		t.Errorf("output = %q, want %q", got, "before\n")
	}
}

func TestIsolatedExecute_MergedStreams(t *testing.T) {
	e := newIsolated(t, KillPolicy{}, 10*time.Second)

	res, err := e.Execute(context.Background(), Request{Command: "echo out; echo err 1>&2"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := string(res.Output)
	if !strings.Contains(got, "out\n") || !strings.Contains(got, "err\n") {
		t.Errorf("output = %q, want both streams present", got)
	}
}

func TestIsolatedExecute_TimeoutKill(t *testing.T) {
	e := newIsolated(t, KillPolicy{OnTimeout: sigPtr("SIGKILL")}, 0)

	start := time.Now()
	res, err := e.Execute(context.Background(), Request{
		Command: "echo started; sleep 30",
		Timeout: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("took %v, kill did not take effect", elapsed)
	}
	if !res.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if res.Status != 137 {
		t.Errorf("status = %d, want 137 (SIGKILL)", res.Status)
	}
	if !strings.Contains(string(res.Output), "started\n") {
		t.Errorf("output = %q, want output before the kill preserved", res.Output)
	}
}

func TestIsolatedExecute_TimeoutKillObserved(t *testing.T) {
	e := newIsolated(t, KillPolicy{OnTimeout: sigPtr("SIGKILL")}, 0)

	var seen []signals.Signal
	e.WithKillObserver(func(sig signals.Signal) { seen = append(seen, sig) })

	res, err := e.Execute(context.Background(), Request{
		Command: "sleep 30",
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if len(seen) != 1 || seen[0] != *sigPtr("SIGKILL") {
		t.Errorf("observed kills = %v, want exactly one SIGKILL", seen)
	}
}

func TestIsolatedExecute_TimeoutWithoutKillRunsToCompletion(t *testing.T) {
	e := newIsolated(t, KillPolicy{}, 0)

	res, err := e.Execute(context.Background(), Request{
		Command: "sleep 1; echo late",
		Timeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if res.Status != 0 {
		t.Errorf("status = %d, want 0", res.Status)
	}
	if got := string(res.Output); got != "late\n" {
		t.Errorf("output = %q, want %q: late output must not be dropped", got, "late\n")
	}
}

func TestIsolatedExecute_NoTimeoutFiresOnFastCommand(t *testing.T) {
	e := newIsolated(t, KillPolicy{OnTimeout: sigPtr("SIGKILL")}, 10*time.Second)

	res, err := e.Execute(context.Background(), Request{Command: "echo quick"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.TimedOut {
		t.Error("TimedOut = true for a command well inside its deadline")
	}
	if res.Status != 0 {
		t.Errorf("status = %d, want 0", res.Status)
	}
}

func TestIsolatedExecute_Cancellation(t *testing.T) {
	e := newIsolated(t, KillPolicy{OnExit: sigPtr("SIGTERM")}, 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	res, err := e.Execute(ctx, Request{Command: "echo begun; sleep 30"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res == nil {
		t.Fatal("result is nil, want drained output alongside the cancellation")
	}
	if !strings.Contains(string(res.Output), "begun\n") {
		t.Errorf("output = %q, want pre-cancellation output preserved", res.Output)
	}
	if res.Status != 143 {
		t.Errorf("status = %d, want 143 (SIGTERM)", res.Status)
	}
}

func TestIsolatedExecute_LaunchFailure(t *testing.T) {
	spec := launcher.Spec{ShellPath: "/nonexistent/shell"}
	e := NewIsolated(launcher.New(testLogger()), spec, KillPolicy{}, time.Second, testLogger())

	if _, err := e.Execute(context.Background(), Request{Command: "true"}); err == nil {
		t.Fatal("Execute with a bogus shell path succeeded, want error")
	}
}

func TestIsolatedExecute_Concurrent(t *testing.T) {
	e := newIsolated(t, KillPolicy{}, 10*time.Second)

	const n = 4
	type outcome struct {
		res *Result
		err error
	}
	results := make(chan outcome, n)
	for i := 0; i < n; i++ {
		go func() {
			res, err := e.Execute(context.Background(), Request{Command: "echo hello"})
			results <- outcome{res, err}
		}()
	}
	for i := 0; i < n; i++ {
		o := <-results
		if o.err != nil {
			t.Fatalf("Execute: %v", o.err)
		}
		if got := string(o.res.Output); got != "hello\n" {
			t.Errorf("output = %q, want %q", got, "hello\n")
		}
	}
}

func startTestSession(t *testing.T, cfg SessionConfig, kill KillPolicy) *Session {
	t.Helper()
	spec := launcher.Spec{ShellPath: skipIfNoShell(t)}
	if cfg.Quiescence == 0 {
		cfg.Quiescence = 200 * time.Millisecond
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	s, err := StartSession(launcher.New(testLogger()), spec, cfg, kill, testLogger())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionRun_RoundTrip(t *testing.T) {
	s := startTestSession(t, SessionConfig{}, KillPolicy{OnExit: sigPtr("SIGKILL")})

	out, err := s.Run(context.Background(), "echo hi", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := string(out); got != "hi\n" {
		t.Errorf("output = %q, want %q", got, "hi\n")
	}
	if !s.Alive() {
		t.Error("session reported dead after a successful request")
	}
}

func TestSessionRun_NoLeftoverBetweenRequests(t *testing.T) {
	s := startTestSession(t, SessionConfig{}, KillPolicy{OnExit: sigPtr("SIGKILL")})

	first, err := s.Run(context.Background(), "echo first", 0)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := s.Run(context.Background(), "echo second", 0)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := string(first); got != "first\n" {
		t.Errorf("first output = %q, want %q", got, "first\n")
	}
	if got := string(second); got != "second\n" {
		t.Errorf("second output = %q, want %q: no bytes may leak across requests", got, "second\n")
	}
}

func TestSessionRun_StatePersistsAcrossRequests(t *testing.T) {
	s := startTestSession(t, SessionConfig{}, KillPolicy{OnExit: sigPtr("SIGKILL")})

	// The assignment prints nothing, so its collection ends only at the
	// deadline; keep it short.
	if _, err := s.Run(context.Background(), "GREETING=hello", 300*time.Millisecond); err != nil {
		t.Fatalf("assignment Run: %v", err)
	}
	out, err := s.Run(context.Background(), `echo "$GREETING world"`, 0)
	if err != nil {
		t.Fatalf("readback Run: %v", err)
	}
	if got := string(out); got != "hello world\n" {
		t.Errorf("output = %q, want %q", got, "hello world\n")
	}
}

func TestSessionRun_InitialInputDiscarded(t *testing.T) {
	s := startTestSession(t, SessionConfig{InitialInput: "echo from-startup\n"}, KillPolicy{OnExit: sigPtr("SIGKILL")})

	// Give the drain time to consume the startup output.
	time.Sleep(300 * time.Millisecond)

	out, err := s.Run(context.Background(), "echo request", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := string(out); got != "request\n" {
		t.Errorf("output = %q, want %q: startup output must not reach a request", got, "request\n")
	}
}

func TestSessionRun_InitialInputWithoutTrailingNewline(t *testing.T) {
	// A missing final newline must not leave the last startup line buffered
	// in the shell where the first request would concatenate onto it.
	s := startTestSession(t, SessionConfig{InitialInput: "PRELUDE=kept"}, KillPolicy{OnExit: sigPtr("SIGKILL")})

	time.Sleep(300 * time.Millisecond)

	out, err := s.Run(context.Background(), `echo "$PRELUDE"`, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := string(out); got != "kept\n" {
		t.Errorf("output = %q, want %q", got, "kept\n")
	}
}

func TestSessionRun_DeadlineWithoutOutput(t *testing.T) {
	s := startTestSession(t, SessionConfig{}, KillPolicy{OnExit: sigPtr("SIGKILL")})

	start := time.Now()
	out, err := s.Run(context.Background(), "sleep 30", 250*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("output = %q, want empty", out)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Run blocked %v past its deadline", elapsed)
	}
}

func TestSessionRun_AfterShellExit(t *testing.T) {
	s := startTestSession(t, SessionConfig{}, KillPolicy{})

	if _, err := s.Run(context.Background(), "exit 0", 2*time.Second); !errors.Is(err, ErrSessionClosed) && err != nil {
		t.Fatalf("exit Run: %v", err)
	}

	// The shell is gone; any later request must fail terminally.
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := s.Run(context.Background(), "echo ghost", time.Second)
		if errors.Is(err, ErrSessionClosed) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Run after shell exit = %v, want ErrSessionClosed", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if s.Alive() {
		t.Error("Alive = true after the shell exited")
	}
}

func TestSessionClose_Idempotent(t *testing.T) {
	s := startTestSession(t, SessionConfig{}, KillPolicy{OnExit: sigPtr("SIGKILL")})

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSessionClose_KillObserved(t *testing.T) {
	s := startTestSession(t, SessionConfig{}, KillPolicy{OnExit: sigPtr("SIGKILL")})
	var seen []signals.Signal
	s.WithKillObserver(func(sig signals.Signal) { seen = append(seen, sig) })

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if len(seen) != 1 || seen[0] != *sigPtr("SIGKILL") {
		t.Errorf("observed kills = %v, want exactly one SIGKILL", seen)
	}
}

func TestGuard_FiresWithTag(t *testing.T) {
	g := ArmGuard(20*time.Millisecond, 4242, signals.Signal(9))
	defer g.Disarm()

	select {
	case kr := <-g.Expired():
		if kr.PID != 4242 {
			t.Errorf("pid = %d, want 4242", kr.PID)
		}
		if kr.Signal != signals.Signal(9) {
			t.Errorf("signal = %d, want 9", kr.Signal)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("guard never fired")
	}
}

func TestGuard_DisarmSuppressesEvent(t *testing.T) {
	g := ArmGuard(10*time.Millisecond, 1234, signals.Signal(9))
	time.Sleep(50 * time.Millisecond) // let the timer fire first
	g.Disarm()

	select {
	case kr := <-g.Expired():
		t.Fatalf("event %+v observed after Disarm", kr)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGuard_RearmExtendsDeadline(t *testing.T) {
	g := ArmGuard(40*time.Millisecond, 1, signals.Signal(9))
	defer g.Disarm()

	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		g.Rearm(40 * time.Millisecond)
	}
	select {
	case <-g.Expired():
		t.Fatal("guard fired despite continuous rearming")
	default:
	}

	select {
	case <-g.Expired():
	case <-time.After(2 * time.Second):
		t.Fatal("guard never fired after rearming stopped")
	}
}

func TestGuard_RearmDiscardsSupersededFire(t *testing.T) {
	g := ArmGuard(time.Hour, 42, signals.Signal(9))
	defer g.Disarm()

	g.mu.Lock()
	stale := g.gen
	g.mu.Unlock()
	g.Rearm(time.Hour)

	// A timer armed before the Rearm may only deliver its event after the
	// Rearm has drained the channel; it must be discarded, not queued.
	g.fire(stale)

	select {
	case kr := <-g.Expired():
		t.Fatalf("event %+v observed from a superseded arming", kr)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTerminate_ExitedProcess(t *testing.T) {
	shell := skipIfNoShell(t)
	h, err := launcher.New(testLogger()).Launch("exit 0\n", launcher.Spec{ShellPath: shell})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer h.Close()
	pid := h.PID()
	<-h.Exited()

	if err := Terminate(signals.Signal(9), pid); err != nil {
		t.Errorf("Terminate on an exited pid = %v, want nil", err)
	}
}

func TestTerminate_RejectsReservedPIDs(t *testing.T) {
	for _, pid := range []int{-5, 0, 1} {
		if err := Terminate(signals.Signal(9), pid); err == nil {
			t.Errorf("Terminate(pid=%d) succeeded, want error", pid)
		}
	}
}
