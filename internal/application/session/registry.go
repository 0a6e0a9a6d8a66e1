package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/exchange-withdraw/internal/application/client"
	"github.com/execution-hub/exchange-withdraw/internal/domain/flow"
	"github.com/execution-hub/exchange-withdraw/internal/domain/journal"
)

var (
	ErrFlowNotFound = errors.New("flow not found")
	ErrClosed       = errors.New("registry closed")
)

const (
	DefaultIdleTTL    = 10 * time.Minute
	DefaultAbandonTTL = time.Hour
)

// Journal attaches a transition journal to a flow.
type Journal interface {
	Attach(flowID uuid.UUID, src journal.Source) (func(), error)
}

// Observer attaches metrics to a flow.
type Observer interface {
	Observe(src flow.Observable) (func(), error)
}

// Config controls flow defaults and eviction.
type Config struct {
	OrgID            string
	ProjectID        string
	MaxRetryAttempts int
	RedirectURL      string
	// IdleTTL is how long a terminal flow is kept after its last transition.
	IdleTTL time.Duration
	// AbandonTTL is how long a live flow may go without a transition
	// before it is cancelled and removed.
	AbandonTTL time.Duration
}

// Session is one live flow.
type Session struct {
	ID        uuid.UUID
	Client    *client.Client
	CreatedAt time.Time

	mu      sync.Mutex
	touched time.Time
	detach  []func()
}

// Touched returns the time of the last applied transition.
func (s *Session) Touched() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

func (s *Session) touch(t time.Time) {
	s.mu.Lock()
	s.touched = t
	s.mu.Unlock()
}

// Registry owns the live flows served by the API.
type Registry struct {
	cfg      Config
	deps     client.Collaborators
	opts     []client.Option
	journal  Journal
	observer Observer
	logger   zerolog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	flows  map[uuid.UUID]*Session
	closed bool
}

type Option func(*Registry)

// WithJournal records every flow's transitions.
func WithJournal(j Journal) Option {
	return func(r *Registry) {
		r.journal = j
	}
}

// WithObserver attaches o to every flow.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// WithClientOptions passes opts to every client.
func WithClientOptions(opts ...client.Option) Option {
	return func(r *Registry) {
		r.opts = append(r.opts, opts...)
	}
}

// WithClock overrides the time source used for eviction.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(cfg Config, deps client.Collaborators, logger zerolog.Logger, opts ...Option) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.AbandonTTL <= 0 {
		cfg.AbandonTTL = DefaultAbandonTTL
	}
	r := &Registry{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With().Str("service", "session").Logger(),
		now:    time.Now,
		flows:  make(map[uuid.UUID]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create starts a new flow. Empty org or project ids fall back to the
// configured defaults.
func (r *Registry) Create(orgID, projectID string) (*Session, error) {
	if orgID == "" {
		orgID = r.cfg.OrgID
	}
	if projectID == "" {
		projectID = r.cfg.ProjectID
	}
	c := client.NewClient(client.Config{
		OrgID:            orgID,
		ProjectID:        projectID,
		MaxRetryAttempts: r.cfg.MaxRetryAttempts,
		RedirectURL:      r.cfg.RedirectURL,
	}, r.deps, r.logger, r.opts...)

	now := r.now()
	s := &Session{ID: uuid.New(), Client: c, CreatedAt: now, touched: now}

	unsub, err := c.Subscribe(func(flow.Snapshot) { s.touch(r.now()) })
	if err != nil {
		c.Dispose()
		return nil, err
	}
	s.detach = append(s.detach, unsub)

	if r.journal != nil {
		detach, err := r.journal.Attach(s.ID, c)
		if err != nil {
			r.discard(s)
			return nil, err
		}
		s.detach = append(s.detach, detach)
	}
	if r.observer != nil {
		stop, err := r.observer.Observe(c)
		if err != nil {
			r.discard(s)
			return nil, err
		}
		s.detach = append(s.detach, stop)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.discard(s)
		return nil, ErrClosed
	}
	r.flows[s.ID] = s
	r.mu.Unlock()

	r.logger.Info().Str("flow_id", s.ID.String()).Str("org_id", orgID).Msg("flow created")
	return s, nil
}

func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.flows[id]
	if !ok {
		return nil, ErrFlowNotFound
	}
	return s, nil
}

// Len returns the number of live flows.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flows)
}

// Remove disposes the flow and detaches its journal and metrics.
func (r *Registry) Remove(id uuid.UUID) error {
	r.mu.Lock()
	s, ok := r.flows[id]
	delete(r.flows, id)
	r.mu.Unlock()
	if !ok {
		return ErrFlowNotFound
	}
	r.discard(s)
	r.logger.Info().Str("flow_id", id.String()).Msg("flow removed")
	return nil
}

// Sweep removes terminal flows idle longer than IdleTTL and cancels live
// flows idle longer than AbandonTTL. It returns the number removed.
func (r *Registry) Sweep(now time.Time) int {
	var (
		expired   []uuid.UUID
		abandoned []*Session
	)
	r.mu.RLock()
	for id, s := range r.flows {
		idle := now.Sub(s.Touched())
		snap, err := s.Client.State()
		switch {
		case err != nil || snap.State.IsTerminal():
			if idle > r.cfg.IdleTTL {
				expired = append(expired, id)
			}
		case idle > r.cfg.AbandonTTL:
			abandoned = append(abandoned, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range abandoned {
		if err := s.Client.Cancel(); err != nil {
			r.logger.Debug().Err(err).Str("flow_id", s.ID.String()).Msg("cancel abandoned flow")
		}
		expired = append(expired, s.ID)
	}
	removed := 0
	for _, id := range expired {
		if r.Remove(id) == nil {
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info().Int("removed", removed).Int("abandoned", len(abandoned)).Msg("flows swept")
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// Close removes every flow. Create fails afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	flows := r.flows
	r.flows = make(map[uuid.UUID]*Session)
	r.mu.Unlock()
	for _, s := range flows {
		r.discard(s)
	}
}

func (r *Registry) discard(s *Session) {
	s.Client.Dispose()
	for i := len(s.detach) - 1; i >= 0; i-- {
		s.detach[i]()
	}
}
