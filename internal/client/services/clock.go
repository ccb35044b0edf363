package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/declaro/internal/logging"
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator issues local record ids.
type IDGenerator interface {
	NewID() string
}

type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// OnlineChecker reports the current connectivity state.
type OnlineChecker interface {
	Online() bool
}

// deps are the collaborators every service shares.
type deps struct {
	clock Clock
	ids   IDGenerator
	log   logging.Logger
}

type Option func(*deps)

func WithClock(c Clock) Option { return func(d *deps) { d.clock = c } }

func WithIDGenerator(g IDGenerator) Option { return func(d *deps) { d.ids = g } }

func WithLogger(l logging.Logger) Option { return func(d *deps) { d.log = l } }

func newDeps(opts []Option) deps {
	d := deps{clock: SystemClock{}, ids: UUIDGenerator{}, log: logging.NopLogger{}}
	for _, o := range opts {
		o(&d)
	}
	return d
}
