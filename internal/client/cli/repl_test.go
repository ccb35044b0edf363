package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrijs2005/declaro/internal/client/api"
	"github.com/dmitrijs2005/declaro/internal/common"
)

type fakeExec struct {
	loggedIn bool

	calls []string
	args  map[string][]string
	err   error
}

func (f *fakeExec) record(name string, args []string) error {
	f.calls = append(f.calls, name)
	if f.args == nil {
		f.args = map[string][]string{}
	}
	f.args[name] = args
	return f.err
}

func (f *fakeExec) isLoggedIn() bool { return f.loggedIn }
func (f *fakeExec) Register(context.Context) error {
	return f.record("register", nil)
}
func (f *fakeExec) Login(context.Context) error {
	f.loggedIn = true
	return f.record("login", nil)
}
func (f *fakeExec) Logout(context.Context) error {
	f.loggedIn = false
	return f.record("logout", nil)
}
func (f *fakeExec) TwoFactor(_ context.Context, a []string) error  { return f.record("2fa", a) }
func (f *fakeExec) List(_ context.Context, a []string) error       { return f.record("list", a) }
func (f *fakeExec) Show(_ context.Context, a []string) error       { return f.record("show", a) }
func (f *fakeExec) SetStatus(_ context.Context, a []string) error  { return f.record("status", a) }
func (f *fakeExec) Message(_ context.Context, a []string) error    { return f.record("message", a) }
func (f *fakeExec) Tips(_ context.Context, a []string) error       { return f.record("tips", a) }
func (f *fakeExec) Track(_ context.Context, a []string) error      { return f.record("track", a) }
func (f *fakeExec) Logs(_ context.Context, a []string) error       { return f.record("logs", a) }
func (f *fakeExec) Export(_ context.Context, a []string) error     { return f.record("export", a) }
func (f *fakeExec) Backup(_ context.Context, a []string) error     { return f.record("backup", a) }
func (f *fakeExec) Import(_ context.Context, a []string) error     { return f.record("import", a) }
func (f *fakeExec) Protection(_ context.Context, a []string) error { return f.record("protection", a) }
func (f *fakeExec) Sync(context.Context) error                     { return f.record("sync", nil) }
func (f *fakeExec) Status(context.Context) error                   { return f.record("info", nil) }
func (f *fakeExec) Users(context.Context) error                    { return f.record("users", nil) }

func capturePrintln(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		lines = append(lines, strings.TrimSuffix(fmt.Sprintln(a...), "\n"))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &lines
}

func TestRunREPL_LoginFlowAndCommands(t *testing.T) {
	capturePrintln(t)

	input := strings.NewReader(strings.Join([]string{
		"help",
		"track ABCD-EFGH-JKMN",
		"login",
		"help",
		"list validated",
		"show 42",
		"status 42 validee urgente",
		"logs search carte perdue",
		"sync",
		"foobar",
		"exit",
	}, "\n"))

	exec := &fakeExec{loggedIn: false}
	runREPL(context.Background(), exec, func() string { return "status" }, bufio.NewReader(input))

	assert.Equal(t, []string{"track", "login", "list", "show", "status", "logs", "sync"}, exec.calls)
	assert.Equal(t, []string{"validee", "urgente"}, exec.args["status"][1:])
	assert.Equal(t, []string{"search", "carte", "perdue"}, exec.args["logs"])
}

func TestRunREPL_AdminCommandsNeedLogin(t *testing.T) {
	out := capturePrintln(t)

	input := strings.NewReader("list\nbackup b.json\ninfo\nquit\n")
	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewReader(input))

	assert.Equal(t, []string{"info"}, exec.calls)
	assert.Contains(t, *out, "Please login first.")
	assert.Equal(t, "Bye!", (*out)[len(*out)-1])
}

func TestRunREPL_StopsAtEOF(t *testing.T) {
	capturePrintln(t)

	exec := &fakeExec{loggedIn: true}
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewReader(strings.NewReader("sync")))

	assert.Equal(t, []string{"sync"}, exec.calls, "a last line without newline still runs")
}

func TestReport(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{usage("show <id|code>"), "Usage: show <id|code>"},
		{fmt.Errorf("list: %w", common.ErrorUnauthorized), "Session expired or not authorized, please login again."},
		{fmt.Errorf("update: %w", api.ErrUnavailable), "The portal is unreachable, try again once online."},
		{common.ErrorNotFound, "Error: not found"},
	}
	for _, tt := range tests {
		out := capturePrintln(t)
		report(tt.err)
		assert.Equal(t, []string{tt.want}, *out)
	}

	out := capturePrintln(t)
	report(nil)
	assert.Empty(t, *out)
}
