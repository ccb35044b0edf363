package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/declaro/internal/client/api"
	"github.com/dmitrijs2005/declaro/internal/client/cache"
	"github.com/dmitrijs2005/declaro/internal/client/connectivity"
	"github.com/dmitrijs2005/declaro/internal/client/events"
	"github.com/dmitrijs2005/declaro/internal/client/models"
	"github.com/dmitrijs2005/declaro/internal/client/storage"
	"github.com/dmitrijs2005/declaro/internal/testutil"
	"github.com/dmitrijs2005/declaro/internal/testutil/fakeapi"
)

// env wires the services against a real HTTP client talking to the fake
// portal, over an in-memory cache.
type env struct {
	ctx    context.Context
	srv    *fakeapi.Server
	store  *storage.Store
	bus    *events.Bus
	tokens *cache.TokenStore
	state  *connectivity.State
	clock  *testutil.Clock
	remote *api.Remote
}

func newEnv(t *testing.T, online bool) *env {
	t.Helper()
	ctx := context.Background()

	srv := fakeapi.New()
	t.Cleanup(srv.Close)

	store, err := storage.Open(ctx, storage.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.NewBus()
	tokens := cache.NewTokenStore(store.Metadata, nil)
	client := api.NewClient(srv.URL, tokens, bus, api.WithTimeout(2*time.Second))

	return &env{
		ctx:    ctx,
		srv:    srv,
		store:  store,
		bus:    bus,
		tokens: tokens,
		state:  connectivity.NewState(online),
		clock:  testutil.NewClock(time.Now()),
		remote: api.NewRemote(client),
	}
}

func (e *env) opts(prefix string) []Option {
	return []Option{WithClock(e.clock), WithIDGenerator(testutil.NewSeqIDs(prefix))}
}

// authorize stores a valid admin token so protected endpoints answer.
func (e *env) authorize(t *testing.T) {
	t.Helper()
	require.NoError(t, e.tokens.SetToken(e.ctx, e.srv.Token("1", time.Hour)))
}

func (e *env) declarations() *DeclarationService {
	return NewDeclarationService(e.store, e.remote, e.state, e.opts("loc")...)
}

func (e *env) activity() *ActivityLogService {
	return NewActivityLogService(e.store, e.remote, e.state, 0, e.opts("log")...)
}

func sampleInput() models.DeclarationInput {
	return models.DeclarationInput{
		DeclarantName: "Kofi Mensah",
		Phone:         "+228 90 12 34 56",
		Type:          models.TypeLossReport,
		Category:      "documents",
		Description:   "Carte d'identité perdue au grand marché de Lomé",
		IncidentDate:  time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		Location:      "Lomé",
	}
}
