// Package pipeline is the single path every REST call takes: connectivity
// gate, bearer injection, snake_case encoding, status classification,
// retry with backoff, and coalesced token refresh on 401.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nghyane/gameday-net/internal/apierr"
	"github.com/nghyane/gameday-net/internal/backoff"
	"github.com/nghyane/gameday-net/internal/connectivity"
	"github.com/nghyane/gameday-net/internal/json"
	log "github.com/nghyane/gameday-net/internal/logging"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// ConnectivitySource reports the most recent connectivity status.
type ConnectivitySource interface {
	CurrentStatus() connectivity.Status
}

// CredentialStore is the part of credentials.Store the pipeline uses.
type CredentialStore interface {
	AccessToken(ctx context.Context) (string, bool)
	RefreshToken(ctx context.Context) (string, bool)
	IsExpired(ctx context.Context) bool
	Save(ctx context.Context, access, refresh string, expiresIn time.Duration) bool
	Clear(ctx context.Context) bool
}

// Settings are the retry knobs. They can be swapped at runtime.
type Settings struct {
	MaxRetries     int
	BaseDelay      time.Duration
	RequestTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{MaxRetries: 3, BaseDelay: time.Second, RequestTimeout: 30 * time.Second}
}

type Config struct {
	BaseURL     string
	RefreshPath string
	UserAgent   string
	Settings    Settings
}

// Response is a successful (2xx) reply with its decoded body bytes.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string
	Attempts   int
}

var errOffline = errors.New("device is offline")

type Pipeline struct {
	base        *url.URL
	refreshPath string
	userAgent   string
	client      *http.Client
	conn        ConnectivitySource
	creds       CredentialStore
	settings    atomic.Pointer[Settings]

	refreshGroup singleflight.Group

	sleep func(context.Context, time.Duration) error
	rand  func() float64
	now   func() time.Time
	newID func() string
	sink  AttemptSink
}

type Option func(*Pipeline)

func WithHTTPClient(c *http.Client) Option { return func(p *Pipeline) { p.client = c } }

// WithSleeper replaces the backoff wait, for tests.
func WithSleeper(fn func(context.Context, time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = fn }
}

// WithRand replaces the jitter source; fn must return values in [0,1).
func WithRand(fn func() float64) Option { return func(p *Pipeline) { p.rand = fn } }

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func WithRequestIDs(fn func() string) Option { return func(p *Pipeline) { p.newID = fn } }

func WithAttemptSink(sink AttemptSink) Option { return func(p *Pipeline) { p.sink = sink } }

// New builds a pipeline. conn may be nil, in which case the device is assumed
// online.
func New(cfg Config, conn ConnectivitySource, creds CredentialStore, opts ...Option) (*Pipeline, error) {
	if creds == nil {
		return nil, errors.New("pipeline: credential store is required")
	}
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("pipeline: invalid base url %q", cfg.BaseURL)
	}
	p := &Pipeline{
		base:        base,
		refreshPath: cfg.RefreshPath,
		userAgent:   cfg.UserAgent,
		conn:        conn,
		creds:       creds,
		sleep:       backoff.Sleep,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	if p.refreshPath == "" {
		p.refreshPath = DefaultRefreshPath
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		client, err := NewHTTPClient("")
		if err != nil {
			return nil, err
		}
		p.client = client
	}
	p.UpdateSettings(cfg.Settings)
	return p, nil
}

// UpdateSettings swaps the retry settings. Zero fields fall back to defaults;
// requests already in flight keep the settings they started with.
func (p *Pipeline) UpdateSettings(s Settings) {
	def := DefaultSettings()
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.BaseDelay <= 0 {
		s.BaseDelay = def.BaseDelay
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = def.RequestTimeout
	}
	p.settings.Store(&s)
}

func (p *Pipeline) Settings() Settings {
	if s := p.settings.Load(); s != nil {
		return *s
	}
	return DefaultSettings()
}

// Do executes d and returns the raw successful response. Every failure is an
// *apierr.Error.
func (p *Pipeline) Do(ctx context.Context, d Descriptor) (*Response, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	if p.conn != nil && !p.conn.CurrentStatus().Connected() {
		log.WithFields(log.Fields{"method": d.Method, "path": d.Path}).Debug("request rejected: offline")
		return nil, apierr.New(apierr.KindNetworkUnavailable, errOffline)
	}

	var body []byte
	if d.Body != nil {
		encoded, err := json.MarshalSnake(d.Body)
		if err != nil {
			return nil, apierr.New(apierr.KindEncodeFailed, err)
		}
		body = encoded
	}

	s := p.Settings()
	policy := backoff.Policy{Base: s.BaseDelay, Jitter: backoff.DefaultJitter, Rand: p.rand}
	requestID := p.newID()

	if d.RequiresAuth && p.creds.IsExpired(ctx) {
		if current, ok := p.creds.AccessToken(ctx); ok {
			if err := p.refresh(ctx, current); err != nil {
				return nil, err
			}
		}
	}

	replayed := false
	for attempt := 0; ; {
		if err := ctx.Err(); err != nil {
			return nil, contextError(err)
		}
		resp, usedToken, apiErr := p.attempt(ctx, d, body, requestID, attempt, s)
		if apiErr == nil {
			resp.Attempts = attempt + 1
			return resp, nil
		}

		switch {
		case apiErr.Kind == apierr.KindCancelled:
			return nil, apiErr
		case apiErr.Kind == apierr.KindUnauthorized:
			if !d.RequiresAuth || replayed {
				return nil, apiErr
			}
			replayed = true
			if err := p.refresh(ctx, usedToken); err != nil {
				return nil, err
			}
			// Replay at the same attempt count.
			continue
		case !apiErr.Retryable() || attempt >= s.MaxRetries:
			return nil, apiErr
		}

		delay := policy.Delay(attempt)
		if apiErr.Kind == apierr.KindRateLimited && apiErr.RetryAfter != nil {
			delay = *apiErr.RetryAfter
		}
		log.WithFields(log.Fields{
			"request_id": requestID,
			"attempt":    attempt,
			"delay":      delay.String(),
			"error_kind": apiErr.Kind.String(),
		}).Debug("retrying request")
		if err := p.sleep(ctx, delay); err != nil {
			return nil, contextError(err)
		}
		attempt++
	}
}

// SendInto executes d and decodes a successful body into out. An empty body
// leaves out untouched.
func (p *Pipeline) SendInto(ctx context.Context, d Descriptor, out any) error {
	resp, err := p.Do(ctx, d)
	if err != nil {
		return err
	}
	return decodeInto(resp.Body, out)
}

// Send executes d and decodes the body as T.
func Send[T any](ctx context.Context, p *Pipeline, d Descriptor) (T, error) {
	var out T
	resp, err := p.Do(ctx, d)
	if err != nil {
		return out, err
	}
	if raw, ok := any(&out).(*[]byte); ok {
		*raw = resp.Body
		return out, nil
	}
	if err := decodeInto(resp.Body, &out); err != nil {
		return out, err
	}
	return out, nil
}

func decodeInto(body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return decodeError(err)
	}
	return nil
}

// attempt performs one round trip. It returns the access token it sent so a
// 401 can be matched against the token that was rejected.
func (p *Pipeline) attempt(ctx context.Context, d Descriptor, body []byte, requestID string, attempt int, s Settings) (*Response, string, *apierr.Error) {
	rec := AttemptRecord{
		RequestID: requestID,
		Method:    d.Method,
		Path:      d.Path,
		Attempt:   attempt,
		Timestamp: p.now(),
	}

	var token string
	if d.RequiresAuth {
		current, ok := p.creds.AccessToken(ctx)
		if !ok {
			apiErr := apierr.New(apierr.KindUnauthorized, errors.New("no access token"))
			p.finish(rec, 0, apiErr)
			return nil, "", apiErr
		}
		token = current
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, d.Method, d.target(p.base).String(), reader)
	if err != nil {
		apiErr := apierr.New(apierr.KindInvalidRequest, err)
		p.finish(rec, 0, apiErr)
		return nil, token, apiErr
	}
	for key, values := range d.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", acceptEncoding)
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		rec.Latency = time.Since(start)
		apiErr := classifyTransport(ctx, err)
		p.finish(rec, 0, apiErr)
		return nil, token, apiErr
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("response body close error: %v", errClose)
		}
	}()

	raw, err := readLimited(resp.Body)
	rec.Latency = time.Since(start)
	tooLarge := errors.Is(err, errBodyTooLarge)
	if err != nil && !tooLarge {
		apiErr := classifyTransport(ctx, err)
		p.finish(rec, resp.StatusCode, apiErr)
		return nil, token, apiErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := classifyStatus(resp.StatusCode, resp.Header, p.now())
		p.finish(rec, resp.StatusCode, apiErr)
		return nil, token, apiErr
	}
	if tooLarge {
		apiErr := decodeError(err)
		p.finish(rec, resp.StatusCode, apiErr)
		return nil, token, apiErr
	}

	decoded, err := decodeBody(strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))), raw)
	if err != nil {
		apiErr := decodeError(err)
		p.finish(rec, resp.StatusCode, apiErr)
		return nil, token, apiErr
	}
	p.finish(rec, resp.StatusCode, nil)
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       decoded,
		RequestID:  requestID,
	}, token, nil
}

// finish logs the attempt and hands it to the sink.
func (p *Pipeline) finish(rec AttemptRecord, status int, apiErr *apierr.Error) {
	rec.StatusCode = status
	fields := log.Fields{
		"method":     rec.Method,
		"path":       rec.Path,
		"status":     status,
		"latency":    rec.Latency.Round(time.Millisecond).String(),
		"attempt":    rec.Attempt,
		"request_id": rec.RequestID,
	}
	if apiErr != nil {
		rec.ErrorKind = apiErr.Kind.String()
		fields["error_kind"] = rec.ErrorKind
		log.WithFields(fields).Warn("request attempt failed")
	} else {
		log.WithFields(fields).Debug("request attempt")
	}
	if p.sink != nil {
		p.sink.RecordAttempt(rec)
	}
}
