package cli

import (
	"context"

	"github.com/dmitrijs2005/declaro/internal/client/api"
)

// Sync replays both outboxes now and reports what happened.
func (a *App) Sync(ctx context.Context) error {
	if !a.Check(ctx) {
		return api.ErrUnavailable
	}

	dr, err := a.decls.Flush(ctx)
	if err != nil {
		return err
	}
	lr, err := a.activity.Flush(ctx)
	if err != nil {
		return err
	}
	a.printf("Declarations: %d replayed, %d failed, %d dropped, %d waiting\n", dr.Replayed, dr.Failed, dr.Dropped, dr.Skipped)
	a.printf("Activity logs: %d replayed, %d failed, %d dropped\n", lr.Replayed, lr.Failed, lr.Dropped)
	for local, remote := range dr.Reconciled {
		a.printf("  %s is now %s\n", local, remote)
	}
	return nil
}

// Status prints connectivity, the session and pending local writes.
func (a *App) Status(ctx context.Context) error {
	a.printf("Portal: %s (%s)\n", a.config.APIBaseURL, a.state.Status())
	if u, ok := a.currentUser(ctx); ok {
		a.printf("Signed in as %s\n", u.Username)
	} else {
		a.printf("Not signed in\n")
		if first, err := a.auth.IsFirstSetup(ctx); err == nil && first {
			a.printf("No account on this device yet, use 'register' to create one.\n")
		}
	}

	dp, err := a.decls.Pending(ctx)
	if err != nil {
		return err
	}
	lp, err := a.activity.Pending(ctx)
	if err != nil {
		return err
	}
	a.printf("Pending writes: %d declaration(s), %d log(s)\n", dp, lp)
	return nil
}
