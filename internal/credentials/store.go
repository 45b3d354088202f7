// Package credentials holds the access/refresh token pair for the signed-in
// user. All state lives behind a single mutex in Store; persistence is
// delegated to a Backend (memory, file, SQLite, Postgres, object storage,
// optionally sealed).
package credentials

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nghyane/gameday-net/internal/json"
	log "github.com/nghyane/gameday-net/internal/logging"
	"golang.org/x/oauth2"
)

// ExpirySkew is subtracted from the true expiry so a token is treated as
// expired slightly early, absorbing clock skew and in-flight latency.
const ExpirySkew = 60 * time.Second

// DefaultKey is the backend key the pair is persisted under.
const DefaultKey = "gameday.credentials"

// ErrNoCredentials is returned when no pair is stored.
var ErrNoCredentials = errors.New("credentials: none stored")

// Pair is an access/refresh token pair. Both tokens are always present
// together.
type Pair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Token converts the pair for use with golang.org/x/oauth2 helpers.
func (p Pair) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       p.ExpiresAt,
	}
}

// Store is the single writer of credential state.
type Store struct {
	backend Backend
	key     string
	now     func() time.Time

	mu     sync.Mutex
	cached *Pair
	loaded bool
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the backend key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, key: DefaultKey, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read returns a copy of the stored pair. A backend or decode failure is
// logged and reported as "no credentials" so the caller re-authenticates.
func (s *Store) Read(ctx context.Context) (Pair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.loadLocked(ctx)
	if p == nil {
		return Pair{}, false
	}
	return *p, true
}

// Save replaces both tokens in one step. expiresIn is measured from now.
// It reports whether the pair was persisted; the in-memory pair is updated
// even when persistence fails so the running session keeps working.
func (s *Store) Save(ctx context.Context, access, refresh string, expiresIn time.Duration) bool {
	if access == "" || refresh == "" {
		log.Warn("credentials: refusing to store a partial token pair")
		return false
	}
	pair := &Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    s.now().Add(expiresIn),
	}
	data, err := json.Marshal(pair)
	if err != nil {
		log.WithError(err).Error("credentials: encode failed")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = pair
	s.loaded = true
	if err := s.backend.Set(ctx, s.key, data); err != nil {
		log.WithError(err).Error("credentials: persist failed")
		return false
	}
	log.WithField("expires_at", pair.ExpiresAt.Format(time.RFC3339)).Debug("credentials: stored")
	return true
}

// Clear removes the stored pair. It reports whether the backend delete succeeded.
func (s *Store) Clear(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	s.loaded = true
	if err := s.backend.Delete(ctx, s.key); err != nil && !errors.Is(err, ErrNotFound) {
		log.WithError(err).Error("credentials: clear failed")
		return false
	}
	log.Debug("credentials: cleared")
	return true
}

// IsExpired reports true when no pair is stored or the pair expires within ExpirySkew.
func (s *Store) IsExpired(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.loadLocked(ctx)
	if p == nil {
		return true
	}
	return !s.now().Add(ExpirySkew).Before(p.ExpiresAt)
}

func (s *Store) HasCredentials(ctx context.Context) bool {
	_, ok := s.Read(ctx)
	return ok
}

// AccessToken returns the current access token, if any.
func (s *Store) AccessToken(ctx context.Context) (string, bool) {
	p, ok := s.Read(ctx)
	if !ok {
		return "", false
	}
	return p.AccessToken, true
}

// RefreshToken returns the current refresh token, if any.
func (s *Store) RefreshToken(ctx context.Context) (string, bool) {
	p, ok := s.Read(ctx)
	if !ok {
		return "", false
	}
	return p.RefreshToken, true
}

// Token returns the stored pair as an *oauth2.Token.
func (s *Store) Token(ctx context.Context) (*oauth2.Token, error) {
	p, ok := s.Read(ctx)
	if !ok {
		return nil, ErrNoCredentials
	}
	return p.Token(), nil
}

// TokenSource exposes the store to code built on golang.org/x/oauth2. The
// source never refreshes on its own; the request pipeline owns refresh.
func (s *Store) TokenSource(ctx context.Context) oauth2.TokenSource {
	return storeTokenSource{ctx: ctx, store: s}
}

type storeTokenSource struct {
	ctx   context.Context
	store *Store
}

func (ts storeTokenSource) Token() (*oauth2.Token, error) {
	return ts.store.Token(ts.ctx)
}

func (s *Store) loadLocked(ctx context.Context) *Pair {
	if s.loaded {
		return s.cached
	}
	data, err := s.backend.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.WithError(err).Warn("credentials: read failed, treating as signed out")
			return nil
		}
		s.loaded = true
		s.cached = nil
		return nil
	}
	var p Pair
	if err := json.Unmarshal(data, &p); err != nil || p.AccessToken == "" || p.RefreshToken == "" {
		log.Warn("credentials: stored pair is unreadable, treating as signed out")
		s.loaded = true
		s.cached = nil
		return nil
	}
	s.cached = &p
	s.loaded = true
	return s.cached
}
