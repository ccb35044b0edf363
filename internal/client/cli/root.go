package cli

import (
	"context"
	"fmt"
	"sync"
)

func (a *App) getStatus() string {
	s := ""
	if u, ok := a.currentUser(context.Background()); ok {
		s = u.Username + " "
	}
	s += a.state.Status()
	return fmt.Sprintf("(%s)", s)
}

// Root runs the interactive console until the user exits or input ends.
// The connectivity watcher runs alongside and stops with the console.
func (a *App) Root(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	printlnFn("Welcome to the declaro console (type 'help' for commands)")

	a.Check(ctx)
	user, ok, err := a.auth.Restore(ctx)
	if err != nil {
		a.log.Error(ctx, "failed to restore session", "error", err)
	}
	if ok {
		printlnFn(fmt.Sprintf("Signed in as %s", user.Username))
		a.refresh(ctx)
	} else {
		a.flush(ctx)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.StartOnlineStatusWatcher(ctx)
	}()

	runREPL(ctx, a, a.getStatus, a.reader)
	cancel()
	wg.Wait()
}

// Run starts the console and closes the App when it returns.
func (a *App) Run(ctx context.Context) {
	defer func() {
		if err := a.Close(); err != nil {
			a.log.Error(ctx, "failed to close cache", "error", err)
		}
	}()
	a.Root(ctx)
}
