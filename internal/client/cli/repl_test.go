package cli

import (
	"bufio"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	loggedIn bool
	calls    []string
}

func (f *fakeExec) record(name string) error {
	f.calls = append(f.calls, name)
	return nil
}

func (f *fakeExec) isLoggedIn() bool { return f.loggedIn }
func (f *fakeExec) Register(ctx context.Context) error {
	return f.record("register")
}
func (f *fakeExec) Login(ctx context.Context) error {
	f.loggedIn = true
	return f.record("login")
}
func (f *fakeExec) Unlock(ctx context.Context) error {
	f.loggedIn = true
	return f.record("unlock")
}
func (f *fakeExec) Lock(ctx context.Context) error {
	f.loggedIn = false
	return f.record("lock")
}
func (f *fakeExec) Logout(ctx context.Context) error {
	f.loggedIn = false
	return f.record("logout")
}
func (f *fakeExec) AddNote(ctx context.Context) error  { return f.record("addnote") }
func (f *fakeExec) AddLogin(ctx context.Context) error { return f.record("addlogin") }
func (f *fakeExec) AddFile(ctx context.Context) error  { return f.record("addfile") }
func (f *fakeExec) List(ctx context.Context) error     { return f.record("list") }
func (f *fakeExec) Show(ctx context.Context) error     { return f.record("show") }
func (f *fakeExec) Delete(ctx context.Context) error   { return f.record("delete") }
func (f *fakeExec) Sync(ctx context.Context) error     { return f.record("sync") }
func (f *fakeExec) ChangePassword(ctx context.Context) error {
	return f.record("passwd")
}

func runScript(t *testing.T, f *fakeExec, script string) []string {
	t.Helper()
	var out []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		parts := make([]string, 0, len(a))
		for _, v := range a {
			parts = append(parts, strings.TrimSpace(anyToString(v)))
		}
		out = append(out, strings.Join(parts, " "))
		return 0, nil
	}
	defer func() { printlnFn = orig }()

	runREPL(context.Background(), f, func() string { return "" }, bufio.NewScanner(strings.NewReader(script)))
	return out
}

func anyToString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func TestREPLDispatchesCommands(t *testing.T) {
	f := &fakeExec{}
	runScript(t, f, "login\naddnote\nlist\nsync\nlogout\nexit\n")
	assert.Equal(t, []string{"login", "addnote", "list", "sync", "logout"}, f.calls)
}

func TestREPLShortListAlias(t *testing.T) {
	f := &fakeExec{}
	runScript(t, f, "l\n")
	assert.Equal(t, []string{"list"}, f.calls)
}

func TestREPLUnknownCommandReported(t *testing.T) {
	f := &fakeExec{}
	out := runScript(t, f, "frobnicate\n")
	assert.Contains(t, out, "Unknown command: frobnicate")
	assert.Empty(t, f.calls)
}

func TestREPLHelpFollowsLoginState(t *testing.T) {
	f := &fakeExec{}
	out := runScript(t, f, "help\nunlock\nhelp\n")

	var helps []string
	for _, line := range out {
		if strings.HasPrefix(line, "Available commands:") {
			helps = append(helps, line)
		}
	}
	assert.Len(t, helps, 2)
	assert.Contains(t, helps[0], "register")
	assert.Contains(t, helps[1], "passwd")
}

func TestREPLExitsOnQuit(t *testing.T) {
	f := &fakeExec{}
	out := runScript(t, f, "quit\nlist\n")
	assert.Contains(t, out, "Bye!")
	assert.Empty(t, f.calls)
}

func TestREPLIgnoresBlankLines(t *testing.T) {
	f := &fakeExec{}
	runScript(t, f, "\n\n  \nsync\n")
	assert.Equal(t, []string{"sync"}, f.calls)
}
