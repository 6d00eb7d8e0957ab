package shellenv

import (
	"reflect"
	"strings"
	"testing"
)

func testLookup(m map[string]string) Lookup {
	return func(name string) string { return m[name] }
}

func TestResolve_Expansion(t *testing.T) {
	lookup := testLookup(map[string]string{"BASE": "/opt/app", "USER": "deploy"})

	r, err := Resolve(map[string]string{
		"APP_HOME": "${BASE}/home",
		"APP_USER": "$USER",
		"PLAIN":    "value",
	}, false, lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Entry{
		{Name: "APP_HOME", Value: "/opt/app/home"},
		{Name: "APP_USER", Value: "deploy"},
		{Name: "PLAIN", Value: "value"},
	}
	if got := r.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("entries = %+v, want %+v", got, want)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	lookup := testLookup(map[string]string{"HOME": "/root"})
	vars := map[string]string{"A": "${HOME}/a", "B": "literal"}

	first, err := Resolve(vars, true, lookup)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := Resolve(vars, true, lookup)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if !reflect.DeepEqual(first.Entries(), second.Entries()) {
		t.Errorf("resolve is not idempotent:\nfirst  %+v\nsecond %+v", first.Entries(), second.Entries())
	}

	// Already-resolved values pass through unchanged.
	again, err := Resolve(map[string]string{"A": "/root/a", "B": "literal"}, true, lookup)
	if err != nil {
		t.Fatalf("re-resolve: %v", err)
	}
	if !reflect.DeepEqual(first.Entries(), again.Entries()) {
		t.Errorf("re-resolving resolved values changed the table:\n%+v\n%+v", first.Entries(), again.Entries())
	}
}

func TestResolve_EmptyKeyFails(t *testing.T) {
	lookup := testLookup(map[string]string{})
	if _, err := Resolve(map[string]string{"${MISSING}": "v"}, false, lookup); err == nil {
		t.Fatal("expected error for key expanding to empty string")
	}
}

func TestResolve_ResetPrecedence(t *testing.T) {
	lookup := testLookup(map[string]string{})
	r, err := Resolve(map[string]string{"GODEBUG": "gctrace=1"}, true, lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Caller entries layer on top of the reset unsets.
	env := r.Apply([]string{"GODEBUG=inherited", "NOTIFY_SOCKET=/run/notify", "PATH=/bin"})
	var sawDebug, sawNotify bool
	for _, kv := range env {
		switch {
		case kv == "GODEBUG=gctrace=1":
			sawDebug = true
		case strings.HasPrefix(kv, "NOTIFY_SOCKET="):
			sawNotify = true
		}
	}
	if !sawDebug {
		t.Errorf("caller GODEBUG did not override reset unset: %v", env)
	}
	if sawNotify {
		t.Errorf("NOTIFY_SOCKET survived reset: %v", env)
	}
}

func TestApply_OverridesBase(t *testing.T) {
	r, err := Resolve(map[string]string{"PATH": "/custom/bin"}, false, testLookup(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env := r.Apply([]string{"PATH=/bin", "HOME=/root"})
	want := []string{"PATH=/custom/bin", "HOME=/root"}
	if !reflect.DeepEqual(env, want) {
		t.Errorf("Apply = %v, want %v", env, want)
	}
}

func TestInlineScript(t *testing.T) {
	r, err := Resolve(map[string]string{
		"GREETING": "hello world",
		"QUOTED":   "it's",
	}, false, testLookup(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	script := r.InlineScript("/var/tmp")
	wantLines := []string{
		`GREETING='hello world'; export GREETING`,
		`QUOTED='it'\''s'; export QUOTED`,
		`cd '/var/tmp'`,
	}
	for _, line := range wantLines {
		if !strings.Contains(script, line+"\n") {
			t.Errorf("script missing line %q:\n%s", line, script)
		}
	}
}

func TestInlineScript_ResetUnsets(t *testing.T) {
	r, err := Resolve(nil, true, testLookup(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	script := r.InlineScript("")
	if !strings.Contains(script, "unset NOTIFY_SOCKET\n") {
		t.Errorf("script missing reset unset:\n%s", script)
	}
	if strings.Contains(script, "cd ") {
		t.Errorf("script has cd line without a directory:\n%s", script)
	}
}
