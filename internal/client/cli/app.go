package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/declaro/internal/client/api"
	"github.com/dmitrijs2005/declaro/internal/client/cache"
	"github.com/dmitrijs2005/declaro/internal/client/config"
	"github.com/dmitrijs2005/declaro/internal/client/connectivity"
	"github.com/dmitrijs2005/declaro/internal/client/events"
	"github.com/dmitrijs2005/declaro/internal/client/models"
	"github.com/dmitrijs2005/declaro/internal/client/services"
	"github.com/dmitrijs2005/declaro/internal/client/storage"
	"github.com/dmitrijs2005/declaro/internal/filex"
	"github.com/dmitrijs2005/declaro/internal/logging"
)

// App wires the local cache, the API client and the services behind the
// interactive console and the one-shot commands.
type App struct {
	config   *config.Config
	store    *storage.Store
	state    *connectivity.State
	watcher  *connectivity.Watcher
	auth     *services.AuthService
	decls    *services.DeclarationService
	activity *services.ActivityLogService
	settings *services.SettingsService
	log      logging.Logger
	reader   *bufio.Reader
	out      io.Writer
}

type Option func(*App)

func WithInput(r io.Reader) Option { return func(a *App) { a.reader = bufio.NewReader(r) } }

func WithOutput(w io.Writer) Option { return func(a *App) { a.out = w } }

func WithLogger(l logging.Logger) Option { return func(a *App) { a.log = l } }

func NewApp(ctx context.Context, c *config.Config, opts ...Option) (*App, error) {
	a := &App{
		config: c,
		log:    logging.NopLogger{},
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}

	if c.DBPath != storage.MemoryDSN {
		if _, err := filex.EnsureDir(filepath.Dir(c.DBPath), ""); err != nil {
			return nil, err
		}
	}
	store, err := storage.Open(ctx, c.DBPath)
	if err != nil {
		a.log.Error(ctx, "error initializing database", "path", c.DBPath, "error", err)
		return nil, err
	}

	tokens := cache.NewTokenStore(store.Metadata, a.log)
	bus := events.NewBus()
	client := api.NewClient(c.APIBaseURL, tokens, bus, api.WithTimeout(c.RequestTimeout), api.WithLogger(a.log))
	remote := api.NewRemote(client)

	a.store = store
	a.state = connectivity.NewState(false)
	a.watcher = connectivity.NewWatcher(remote, a.state, c.OnlineCheckInterval, a.log)

	so := []services.Option{services.WithLogger(a.log)}
	otp := services.FileDropSender{Dir: c.DataDir}
	a.auth = services.NewAuthService(store, remote, a.state, tokens, otp, bus, so...)
	a.decls = services.NewDeclarationService(store, remote, a.state, so...)
	a.activity = services.NewActivityLogService(store, remote, a.state, c.MaxLogs, so...)
	a.settings = services.NewSettingsService(store, remote, a.state, so...)

	a.state.OnChange(func(ctx context.Context, online bool) {
		if online {
			a.flush(ctx)
		}
	})
	return a, nil
}

// Close releases the cache. The App must not be used afterwards.
func (a *App) Close() error {
	a.auth.Close()
	return a.store.Close()
}

// Check probes the API once and updates the connectivity state.
func (a *App) Check(ctx context.Context) bool {
	return a.watcher.Check(ctx)
}

// StartOnlineStatusWatcher probes the API until ctx is done. Going online
// replays both outboxes.
func (a *App) StartOnlineStatusWatcher(ctx context.Context) {
	a.watcher.Run(ctx)
}

func (a *App) isLoggedIn() bool {
	return a.auth.HasAdminAccess(context.Background())
}

func (a *App) currentUser(ctx context.Context) (models.AdminUser, bool) {
	u, ok, err := a.auth.CurrentUser(ctx)
	if err != nil {
		a.log.Error(ctx, "failed to read session", "error", err)
		return models.AdminUser{}, false
	}
	return u, ok
}

// flush replays queued writes in the background; results are only logged.
func (a *App) flush(ctx context.Context) {
	if res, err := a.decls.Flush(ctx); err != nil {
		a.log.Warn(ctx, "declaration replay failed", "error", err)
	} else if res.Replayed+res.Dropped > 0 {
		a.log.Info(ctx, "declarations replayed", "replayed", res.Replayed, "dropped", res.Dropped)
	}
	if res, err := a.activity.Flush(ctx); err != nil {
		a.log.Warn(ctx, "activity replay failed", "error", err)
	} else if res.Replayed+res.Dropped > 0 {
		a.log.Info(ctx, "activity logs replayed", "replayed", res.Replayed, "dropped", res.Dropped)
	}
}

// refresh loads server state after a session is established.
func (a *App) refresh(ctx context.Context) {
	if err := a.decls.Init(ctx); err != nil {
		a.log.Warn(ctx, "declarations refresh failed", "error", err)
	}
	if err := a.activity.Init(ctx); err != nil {
		a.log.Warn(ctx, "activity refresh failed", "error", err)
	}
}

// audit records an admin action. Failures are logged and never surface.
func (a *App) audit(ctx context.Context, user models.AdminUser, action models.Action, details string, d *models.Declaration, meta map[string]string) {
	in := models.LogInput{
		UserID:   user.ID,
		Username: user.Username,
		Action:   action,
		Details:  details,
		Metadata: meta,
	}
	if d != nil {
		in.DeclarationID = d.ID
		in.DeclarationCode = d.TrackingCode
	}
	if _, err := a.activity.AddLog(ctx, in); err != nil {
		a.log.Warn(ctx, "failed to record activity", "action", action, "error", err)
	}
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
