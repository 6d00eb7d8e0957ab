//go:build linux

package signals

import (
	"syscall"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Signal
		wantErr bool
	}{
		{"SIGKILL", Signal(syscall.SIGKILL), false},
		{"KILL", Signal(syscall.SIGKILL), false},
		{"sigterm", Signal(syscall.SIGTERM), false},
		{"9", Signal(syscall.SIGKILL), false},
		{"15", Signal(syscall.SIGTERM), false},
		{"SIGHUP", Signal(syscall.SIGHUP), false},
		{"", 0, true},
		{"SIGNOPE", 0, true},
		{"99", 0, true},
		{"0", 0, true},
	}
	for _, tc := range tests {
		got, err := Parse(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("Parse(%q) = %v, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestRenderStatus(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{0, "0"},
		{1, "1"},
		{42, "42"},
		{127, "127"},
		{128, "128"},
		{128 + 9, "SIGKILL"},
		{128 + 15, "SIGTERM"},
		{128 + 2, "SIGINT"},
	}
	for _, tc := range tests {
		if got := RenderStatus(tc.status); got != tc.want {
			t.Errorf("RenderStatus(%d) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestName_RoundTrip(t *testing.T) {
	for n := 1; n <= 31; n++ {
		sig := Signal(n)
		parsed, err := Parse(sig.Name())
		if err != nil {
			t.Fatalf("Parse(%q): %v", sig.Name(), err)
		}
		if parsed != sig {
			t.Errorf("Parse(Name(%d)) = %d, want %d", n, parsed, n)
		}
	}
}
