package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/ktboard/internal/fleet"
)

// Defaults for Options fields left zero.
const (
	DefaultPeriod           = 5 * time.Second
	DefaultRegisterAttempts = 10
	DefaultRetryDelay       = 400 * time.Millisecond
)

// ErrTokenRejected is returned by Beat when the board no longer knows the
// reporter's token, typically after a clear.
var ErrTokenRejected = errors.New("token rejected by board")

const invalidTokenMessage = "client_token is invalid"

// Options configures a Reporter.
type Options struct {
	Collector Collector
	Logger    *zap.Logger

	// Config is sent with the registration. heartbeat_period is filled in
	// from Period unless already set.
	Config           map[string]any
	Server           string
	KeyPath          string
	Group            string
	Name             string
	Period           time.Duration
	RetryDelay       time.Duration
	RegisterAttempts int
}

// Reporter registers one client with a board and keeps it alive with
// periodic heartbeats.
type Reporter struct {
	collector Collector
	logger    *zap.Logger
	config    map[string]any
	base      string
	group     string
	name      string
	token     string
	period    time.Duration
	delay     time.Duration
	attempts  int
	mu        sync.Mutex
}

// New validates opts and returns a Reporter. Nothing is sent until Register
// or Run is called.
func New(opts Options) (*Reporter, error) {
	if opts.Server == "" {
		return nil, errors.New("server address is required")
	}
	if opts.KeyPath == "" {
		return nil, errors.New("key path is required")
	}
	if opts.Group == "" || opts.Name == "" {
		return nil, errors.New("group and name are required")
	}

	r := &Reporter{
		collector: opts.Collector,
		logger:    zap.NewNop(),
		base:      strings.TrimRight(opts.Server, "/") + "/" + strings.Trim(opts.KeyPath, "/"),
		group:     opts.Group,
		name:      opts.Name,
		period:    opts.Period,
		delay:     opts.RetryDelay,
		attempts:  opts.RegisterAttempts,
	}
	if opts.Logger != nil {
		r.logger = opts.Logger.Named("reporter").With(zap.String("group", opts.Group), zap.String("name", opts.Name))
	}
	if r.period <= 0 {
		r.period = DefaultPeriod
	}
	if r.delay <= 0 {
		r.delay = DefaultRetryDelay
	}
	if r.attempts <= 0 {
		r.attempts = DefaultRegisterAttempts
	}

	r.config = make(map[string]any, len(opts.Config)+1)
	for k, v := range opts.Config {
		r.config[k] = v
	}
	if _, ok := r.config["heartbeat_period"]; !ok {
		r.config["heartbeat_period"] = r.period.Seconds()
	}
	return r, nil
}

// Token returns the current token, "" before registration.
func (r *Reporter) Token() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}

func (r *Reporter) setToken(token string) {
	r.mu.Lock()
	r.token = token
	r.mu.Unlock()
}

// Register obtains a token, retrying failed attempts RetryDelay apart.
// Validation errors from the board are not retried.
func (r *Reporter) Register(ctx context.Context) error {
	var lastErr error
	for i := 0; i < r.attempts; i++ {
		lastErr = r.registerOnce(ctx)
		if lastErr == nil {
			return nil
		}
		var herr *fleet.HTTPError
		if errors.As(lastErr, &herr) && herr.Code == http.StatusBadRequest {
			return lastErr
		}
		if i == r.attempts-1 {
			break
		}
		r.logger.Warn("register retry", zap.Int("attempt", i+1), zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delay):
		}
	}
	return fmt.Errorf("register after %d attempts: %w", r.attempts, lastErr)
}

func (r *Reporter) registerOnce(ctx context.Context) error {
	req := fleet.RegisterRequest{Group: r.group, Name: r.name, Config: r.config}
	var resp fleet.Response
	if err := fleet.PostJSON(ctx, r.base+"/register-client", req, &resp); err != nil {
		return err
	}
	if resp.Token == "" {
		return errors.New("register: board returned no token")
	}
	r.setToken(resp.Token)
	r.logger.Info("registered", zap.String("board", r.base))
	return nil
}

// Beat sends one heartbeat. A collector failure still sends the heartbeat,
// without metrics.
func (r *Reporter) Beat(ctx context.Context) error {
	req := fleet.HeartbeatRequest{Token: r.Token()}
	if r.collector != nil {
		m, err := r.collector.Collect(ctx)
		if err != nil {
			r.logger.Warn("collect metrics", zap.Error(err))
		} else {
			req.Info = &m
		}
	}

	err := fleet.PostJSON(ctx, r.base+"/heart-beat", req, nil)
	var herr *fleet.HTTPError
	if errors.As(err, &herr) && herr.Code == http.StatusBadRequest && herr.Message == invalidTokenMessage {
		return ErrTokenRejected
	}
	return err
}

// Run registers and then sends a heartbeat every period until ctx is done.
// A rejected token triggers a fresh registration on the next tick. Run
// returns ctx.Err() on cancellation, or the error from the initial
// registration.
func (r *Reporter) Run(ctx context.Context) error {
	if err := r.Register(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		r.tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Reporter) tick(ctx context.Context) {
	if r.Token() == "" {
		if err := r.registerOnce(ctx); err != nil {
			r.logger.Warn("re-register", zap.Error(err))
			return
		}
	}

	err := r.Beat(ctx)
	switch {
	case err == nil:
		r.logger.Debug("heartbeat sent")
	case errors.Is(err, ErrTokenRejected):
		r.logger.Warn("token rejected, registering again")
		r.setToken("")
	case ctx.Err() != nil:
	default:
		r.logger.Warn("heartbeat", zap.Error(err))
	}
}

// Clear asks the board at server to drop every registered client.
func Clear(ctx context.Context, server, keyPath string) error {
	url := strings.TrimRight(server, "/") + "/" + strings.Trim(keyPath, "/") + "/clear-client"
	return fleet.GetJSON(ctx, url, nil)
}
