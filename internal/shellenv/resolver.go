// Package shellenv computes the final environment variable table handed to
// a child shell: ${VAR} expansion against the host environment, plus an
// optional reset policy that strips variables injected into the hosting
// process by its own launch environment.
package shellenv

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Delivery selects how resolved variables reach the child shell.
type Delivery string

const (
	// DeliveryNative passes the table through the process-creation API.
	DeliveryNative Delivery = "native"
	// DeliveryInline injects the table as shell statements on the child's
	// input stream. Required when a user-switching wrapper may discard an
	// externally supplied environment.
	DeliveryInline Delivery = "inline"
)

// resetDefaults are host-launch bookkeeping variables forced to unset when
// the reset policy is on: Go runtime knobs carried by the server process and
// service-manager variables (systemd socket activation, journal wiring).
// Caller-specified entries always layer on top of these.
var resetDefaults = []string{
	"GODEBUG",
	"GOGC",
	"GOMAXPROCS",
	"GOMEMLIMIT",
	"GOTRACEBACK",
	"INVOCATION_ID",
	"JOURNAL_STREAM",
	"LISTEN_FDNAMES",
	"LISTEN_FDS",
	"LISTEN_PID",
	"NOTIFY_SOCKET",
}

// Entry is one resolved variable. Unset entries exist only under the reset
// policy and mean "remove from the child's environment".
type Entry struct {
	Name  string
	Value string
	Unset bool
}

// Resolved is the fully expanded, deterministically ordered variable table.
type Resolved struct {
	entries []Entry
}

// Entries returns the table in resolution order: reset unsets first (sorted),
// then caller entries (sorted by name).
func (r *Resolved) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Apply layers the table onto a base environment in KEY=VALUE form and
// returns the result, as consumed by the process-creation API.
func (r *Resolved) Apply(base []string) []string {
	index := make(map[string]int, len(base))
	out := make([]string, 0, len(base)+len(r.entries))
	for _, kv := range base {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		index[name] = len(out)
		out = append(out, kv)
	}
	for _, e := range r.entries {
		if e.Unset {
			if i, ok := index[e.Name]; ok {
				out[i] = "" // compacted below
				delete(index, e.Name)
			}
			continue
		}
		if i, ok := index[e.Name]; ok {
			out[i] = e.Name + "=" + e.Value
			continue
		}
		index[e.Name] = len(out)
		out = append(out, e.Name+"="+e.Value)
	}
	compacted := out[:0]
	for _, kv := range out {
		if kv != "" {
			compacted = append(compacted, kv)
		}
	}
	return compacted
}

// Lookup resolves expansion variables. A nil Lookup uses the host environment.
type Lookup func(name string) string

// Resolve expands every key and value of vars against lookup and layers the
// result over the reset defaults when reset is on. Expansion is idempotent
// for already-resolved values. A key that expands to an empty string is a
// configuration error, reported here so the component fails at
// initialization rather than per-request.
func Resolve(vars map[string]string, reset bool, lookup Lookup) (*Resolved, error) {
	if lookup == nil {
		lookup = os.Getenv
	}

	r := &Resolved{}
	if reset {
		for _, name := range resetDefaults {
			r.entries = append(r.entries, Entry{Name: name, Unset: true})
		}
	}

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[string]bool, len(names))
	for _, raw := range names {
		name := os.Expand(raw, lookup)
		if name == "" {
			return nil, fmt.Errorf("environment key %q expands to an empty string", raw)
		}
		if seen[name] {
			return nil, fmt.Errorf("environment key %q resolves to duplicate name %q", raw, name)
		}
		seen[name] = true
		value := os.Expand(vars[raw], lookup)
		r.entries = append(r.entries, Entry{Name: name, Value: value})
	}
	return r, nil
}

// quote wraps a value in single quotes for shell injection, escaping any
// embedded single quote as '\''.
func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

// InlineScript renders the table as shell statements for inline delivery:
// one `unset KEY` per reset entry, one `KEY='VALUE'; export KEY` per
// variable, then a `cd` into the working directory when one is set.
func (r *Resolved) InlineScript(dir string) string {
	var b strings.Builder
	for _, e := range r.entries {
		if e.Unset {
			b.WriteString("unset " + e.Name + "\n")
			continue
		}
		b.WriteString(e.Name + "=" + quote(e.Value) + "; export " + e.Name + "\n")
	}
	if dir != "" {
		b.WriteString("cd " + quote(dir) + "\n")
	}
	return b.String()
}
