// Package registry implements the in-memory client registry for KT board.
// See doc.go for complete package documentation.
package registry

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSiteName is the display name used when configuration supplies none.
const DefaultSiteName = "KT board"

// Registry owns every piece of mutable state in the service: registrations,
// the latest heartbeat per client, and the group index.
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│                Registry                  │
//	├──────────────────────────────────────────┤
//	│  clients: token → Registration           │
//	│  beats:   token → HeartbeatState         │
//	│  groups:  group → []token (insert order) │
//	│  mu:      one RWMutex for all three      │
//	└──────────────────────────────────────────┘
//
// Concurrency Model:
//   - Register, RecordHeartbeat and Clear take the write lock
//   - Lookup, Heartbeat and Snapshot take the read lock
//   - Snapshot copies under the lock and aggregates after releasing it
//   - A registration or clear is never visible half-applied
//
// The zero value is not usable; construct with New.
type Registry struct {
	clients map[Token]*Registration
	beats   map[Token]*HeartbeatState
	groups  map[string][]Token

	clock    Clock
	newToken func() Token
	logger   *zap.Logger
	siteName string

	mu sync.RWMutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger sets the logger. A nil logger leaves the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l.Named("registry")
		}
	}
}

// WithSiteName sets the display name carried by every Snapshot.
// An empty name keeps DefaultSiteName.
func WithSiteName(name string) Option {
	return func(r *Registry) {
		if name != "" {
			r.siteName = name
		}
	}
}

// WithTokenSource replaces the random token generator.
func WithTokenSource(f func() Token) Option {
	return func(r *Registry) {
		if f != nil {
			r.newToken = f
		}
	}
}

// New creates an empty registry.
//
// Example:
//
//	reg := registry.New(registry.WithSiteName("lab fleet"), registry.WithLogger(logger))
//	token, err := reg.Register("gpu-boxes", "box-1", nil)
func New(opts ...Option) *Registry {
	r := &Registry{
		clients:  make(map[Token]*Registration),
		beats:    make(map[Token]*HeartbeatState),
		groups:   make(map[string][]Token),
		clock:    SystemClock,
		newToken: func() Token { return Token(uuid.NewString()) },
		logger:   zap.NewNop(),
		siteName: DefaultSiteName,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SiteName returns the display name the registry was configured with.
func (r *Registry) SiteName() string {
	return r.siteName
}

// Register adds a client to group under a display name and returns its token.
//
// Registration process:
//  1. Validates group and name are non-empty
//  2. Draws a token not currently in use
//  3. Stores the registration, an empty heartbeat entry and the group
//     membership under a single write lock
//
// Parameters:
//   - group: group to join; created on first use
//   - name: display name, need not be unique
//   - config: client options, may be nil; heartbeat_period is read from it
//
// Returns:
//   - the new token
//   - *ValidationError (matching ErrValidation) for an empty group or name
//
// Thread Safety:
// Safe for concurrent use. Registering twice yields two distinct tokens.
func (r *Registry) Register(group, name string, config map[string]any) (Token, error) {
	if group == "" {
		return "", required("client_group")
	}
	if name == "" {
		return "", required("client_name")
	}
	cfg := make(map[string]any, len(config))
	for k, v := range config {
		cfg[k] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var token Token
	for {
		token = r.newToken()
		if _, taken := r.clients[token]; !taken && token != "" {
			break
		}
	}

	r.clients[token] = &Registration{
		Token:        token,
		Group:        group,
		Name:         name,
		Config:       cfg,
		RegisteredAt: r.clock.Now(),
	}
	r.beats[token] = &HeartbeatState{Token: token}
	r.groups[group] = append(r.groups[group], token)

	r.logger.Debug("client registered",
		zap.String("group", group),
		zap.String("name", name),
		zap.Stringer("token", token),
	)
	return token, nil
}

// RecordHeartbeat stores the time of now and metrics as the latest report for
// token. The previous payload is discarded even when metrics is nil.
//
// The payload is kept exactly as given; its shape is interpreted only when a
// snapshot is built, so a malformed field never rejects a heartbeat. The
// caller must not modify metrics afterwards.
//
// Returns:
//   - ErrUnknownToken (wrapped) if token is not registered
func (r *Registry) RecordHeartbeat(token Token, metrics map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[token]; !ok {
		return fmt.Errorf("heartbeat from %q: %w", token, ErrUnknownToken)
	}
	state := r.beats[token]
	state.last = r.clock.Now()
	state.Metrics = metrics
	return nil
}

// Clear drops every registration, heartbeat and group. It never fails and
// clearing an empty registry is a no-op.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := len(r.clients)
	r.clients = make(map[Token]*Registration)
	r.beats = make(map[Token]*HeartbeatState)
	r.groups = make(map[string][]Token)

	r.logger.Info("registry cleared", zap.Int("clients", dropped))
}

// Lookup returns a copy of the registration for token, or ErrNotFound.
func (r *Registry) Lookup(token Token) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.clients[token]
	if !ok {
		return Registration{}, fmt.Errorf("lookup %q: %w", token, ErrNotFound)
	}
	return *reg, nil
}

// Heartbeat returns a copy of the latest heartbeat state for token, or
// ErrNotFound.
func (r *Registry) Heartbeat(token Token) (HeartbeatState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.beats[token]
	if !ok {
		return HeartbeatState{}, fmt.Errorf("heartbeat state %q: %w", token, ErrNotFound)
	}
	return *state, nil
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
