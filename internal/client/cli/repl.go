package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/declaro/internal/client/api"
	"github.com/dmitrijs2005/declaro/internal/common"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	TwoFactor(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	SetStatus(ctx context.Context, args []string) error
	Message(ctx context.Context, args []string) error
	Tips(ctx context.Context, args []string) error
	Track(ctx context.Context, args []string) error
	Logs(ctx context.Context, args []string) error
	Export(ctx context.Context, args []string) error
	Backup(ctx context.Context, args []string) error
	Import(ctx context.Context, args []string) error
	Protection(ctx context.Context, args []string) error
	Users(ctx context.Context) error
	Sync(ctx context.Context) error
	Status(ctx context.Context) error
}

var adminOnly = map[string]bool{
	"logout": true, "2fa": true, "list": true, "l": true, "show": true,
	"status": true, "message": true, "tips": true, "logs": true, "export": true,
	"backup": true, "import": true, "protection": true, "sync": true, "users": true,
}

// runREPL starts a simple read–eval–print loop for the declaro console.
//
// It reads a line from reader, parses the first token as the command, and
// dispatches to methods on 'a' with the remaining tokens as arguments. The
// loop exits on EOF or when the user types "exit" or "quit".
//
// Prompt & Commands
//
//	Always:
//	  - help                          available commands
//	  - track <code>                  public status of a declaration
//	  - info                          connectivity and pending writes
//	  - exit | quit                   leave the program
//
//	Not logged in:
//	  - register, login
//
//	Logged in:
//	  - list [validated]              declarations
//	  - show <id|code>                one declaration, marks messages read
//	  - status <id|code> <status> [priority]
//	  - message <id|code>             reply to the declarant
//	  - tips [<id|code> [read <tip>]] tips and unread counts
//	  - logs [n | action <a> | user <id> | declaration <id|code> | search <q> | since <date> [until]]
//	  - export [logs] <file>          plain JSON export
//	  - backup <file>                 encrypted backup
//	  - import <file>                 replace declarations from JSON or a backup
//	  - protection [edit]             anti-abuse switches
//	  - 2fa on|off [user-id]          toggle the second factor
//	  - users                         accounts known to this device
//	  - sync                          replay queued writes now
//	  - logout
//
// Errors returned by handlers are reported and never leave the loop.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("declaro %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		if adminOnly[cmd] && !a.isLoggedIn() {
			printlnFn("Please login first.")
			continue
		}

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: (l)ist, show, status, message, tips, logs, export, backup, import, protection, users, 2fa, sync, track, info, logout, exit")
			} else {
				printlnFn("Available commands: register, login, track, info, exit")
			}

		case "register":
			report(a.Register(ctx))
		case "login":
			report(a.Login(ctx))
		case "logout":
			report(a.Logout(ctx))
		case "2fa":
			report(a.TwoFactor(ctx, args))
		case "l", "list":
			report(a.List(ctx, args))
		case "show":
			report(a.Show(ctx, args))
		case "status":
			report(a.SetStatus(ctx, args))
		case "message":
			report(a.Message(ctx, args))
		case "tips":
			report(a.Tips(ctx, args))
		case "track":
			report(a.Track(ctx, args))
		case "logs":
			report(a.Logs(ctx, args))
		case "export":
			report(a.Export(ctx, args))
		case "backup":
			report(a.Backup(ctx, args))
		case "import":
			report(a.Import(ctx, args))
		case "protection":
			report(a.Protection(ctx, args))
		case "users":
			report(a.Users(ctx))
		case "sync":
			report(a.Sync(ctx))
		case "info":
			report(a.Status(ctx))

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if errors.Is(err, io.EOF) {
			return
		}
	}
}

// errUsage marks a malformed command line.
var errUsage = errors.New("usage")

func usage(format string) error {
	return fmt.Errorf("%w: %s", errUsage, format)
}

// report prints a handler error in terms the operator can act on.
func report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		printlnFn("Usage:", strings.TrimPrefix(err.Error(), "usage: "))
	case errors.Is(err, common.ErrorUnauthorized):
		printlnFn("Session expired or not authorized, please login again.")
	case errors.Is(err, api.ErrUnavailable):
		printlnFn("The portal is unreachable, try again once online.")
	default:
		printlnFn("Error:", err)
	}
}
