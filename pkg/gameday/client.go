package gameday

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nghyane/gameday-net/internal/broadcast"
	"github.com/nghyane/gameday-net/internal/config"
	"github.com/nghyane/gameday-net/internal/connectivity"
	"github.com/nghyane/gameday-net/internal/credentials"
	log "github.com/nghyane/gameday-net/internal/logging"
	"github.com/nghyane/gameday-net/internal/pipeline"
	"github.com/nghyane/gameday-net/internal/stream"
	"github.com/nghyane/gameday-net/internal/usage"
	"golang.org/x/oauth2"
)

// Client owns one instance of every component.
type Client struct {
	creds    *credentials.Store
	observer *connectivity.Observer
	pipe     *pipeline.Pipeline
	stream   *stream.Client
	usage    *usage.Persister

	closeBackend func() error
	closeOnce    sync.Once
}

type options struct {
	backend    credentials.Backend
	prober     connectivity.Prober
	httpClient *http.Client
	pipeOpts   []pipeline.Option
	streamOpts []stream.Option
}

type Option func(*options)

// WithBackend supplies the credential backend instead of building one from
// the config.
func WithBackend(b credentials.Backend) Option { return func(o *options) { o.backend = b } }

// WithProber replaces the TCP reachability probe.
func WithProber(p connectivity.Prober) Option { return func(o *options) { o.prober = p } }

// WithHTTPClient replaces the proxy-aware client built from proxy-url.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(o *options) { o.pipeOpts = append(o.pipeOpts, opts...) }
}

func WithStreamOptions(opts ...stream.Option) Option {
	return func(o *options) { o.streamOpts = append(o.streamOpts, opts...) }
}

// New validates cfg and builds the components. Call Start to begin
// connectivity polling and Close to release everything.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("gameday: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	applyLogLevel(cfg)

	c := &Client{closeBackend: func() error { return nil }}
	backend := o.backend
	if backend == nil {
		b, closer, err := OpenBackend(ctx, cfg.Credentials)
		if err != nil {
			return nil, err
		}
		backend, c.closeBackend = b, closer
	}
	c.creds = credentials.NewStore(backend)

	prober := o.prober
	if prober == nil {
		prober = connectivity.NewNetProber(cfg.ProbeAddress(), cfg.Connectivity.ProbeTimeout)
	}
	c.observer = connectivity.NewObserver(prober, cfg.Connectivity.ProbeInterval)

	httpClient := o.httpClient
	if httpClient == nil {
		hc, err := pipeline.NewHTTPClient(cfg.ProxyURL)
		if err != nil {
			_ = c.closeBackend()
			return nil, err
		}
		httpClient = hc
	}
	pipeOpts := append([]pipeline.Option{pipeline.WithHTTPClient(httpClient)}, o.pipeOpts...)
	if cfg.Usage.Enabled {
		p, err := usage.NewPersister(cfg.Usage.DBPath, usage.Options{
			BatchSize:     cfg.Usage.BatchSize,
			FlushInterval: cfg.Usage.FlushInterval,
			Retention:     time.Duration(cfg.Usage.RetentionDays) * 24 * time.Hour,
		})
		if err != nil {
			log.Warnf("usage persistence disabled: %v", err)
		} else {
			c.usage = p
			pipeOpts = append(pipeOpts, pipeline.WithAttemptSink(p))
		}
	}

	pipe, err := pipeline.New(pipeline.Config{
		BaseURL:     cfg.BaseURL,
		RefreshPath: cfg.RefreshPath,
		UserAgent:   cfg.UserAgent,
		Settings:    pipelineSettings(cfg),
	}, c.observer, c.creds, pipeOpts...)
	if err != nil {
		c.release()
		return nil, err
	}
	c.pipe = pipe

	sc, err := stream.New(stream.Config{
		URL:      cfg.ResolvedStreamURL(),
		Settings: streamSettings(cfg),
	}, c.observer, c.creds, o.streamOpts...)
	if err != nil {
		c.release()
		return nil, err
	}
	c.stream = sc
	return c, nil
}

func pipelineSettings(cfg *config.Config) pipeline.Settings {
	return pipeline.Settings{
		MaxRetries:     cfg.RequestRetry,
		BaseDelay:      cfg.RetryBaseDelay,
		RequestTimeout: cfg.RequestTimeout,
	}
}

func streamSettings(cfg *config.Config) stream.Settings {
	return stream.Settings{
		HeartbeatInterval:    cfg.HeartbeatInterval,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
	}
}

func applyLogLevel(cfg *config.Config) {
	if cfg.Debug {
		log.SetLevel(slog.LevelDebug)
		return
	}
	log.SetLevel(slog.LevelInfo)
}

// Start runs the first connectivity probe and keeps polling until Close.
func (c *Client) Start(ctx context.Context) { c.observer.Start(ctx) }

// ApplyConfig swaps the hot-reloadable settings. It matches the watcher's
// callback signature.
func (c *Client) ApplyConfig(_, updated *Config) {
	if updated == nil {
		return
	}
	applyLogLevel(updated)
	c.pipe.UpdateSettings(pipelineSettings(updated))
	c.stream.UpdateSettings(streamSettings(updated))
}

// Send executes d and returns the raw response.
func (c *Client) Send(ctx context.Context, d Descriptor) (*Response, error) {
	return c.pipe.Do(ctx, d)
}

// SendInto executes d and decodes the JSON body into out.
func (c *Client) SendInto(ctx context.Context, d Descriptor, out any) error {
	return c.pipe.SendInto(ctx, d, out)
}

// SignIn stores a freshly issued token pair.
func (c *Client) SignIn(ctx context.Context, access, refresh string, expiresIn time.Duration) bool {
	return c.creds.Save(ctx, access, refresh, expiresIn)
}

// SignOut drops the stream and forgets the credentials.
func (c *Client) SignOut(ctx context.Context) bool {
	c.stream.Disconnect()
	return c.creds.Clear(ctx)
}

func (c *Client) SignedIn(ctx context.Context) bool { return c.creds.HasCredentials(ctx) }

// TokenSource exposes the stored credentials to other oauth2-aware clients.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return c.creds.TokenSource(ctx)
}

func (c *Client) Connect(ctx context.Context, topic string) error { return c.stream.Connect(ctx, topic) }

func (c *Client) Disconnect() { c.stream.Disconnect() }

// SendMessage writes payload to the open stream.
func (c *Client) SendMessage(payload any) error { return c.stream.Send(payload) }

func (c *Client) Messages() *broadcast.Subscription[Message] { return c.stream.Messages() }

func (c *Client) States() *broadcast.Subscription[ConnectionState] { return c.stream.States() }

func (c *Client) Connectivity() *broadcast.Subscription[Status] { return c.observer.StatusStream() }

func (c *Client) CurrentStatus() Status { return c.observer.CurrentStatus() }

// Usage returns the attempt-record persister, or nil when usage is disabled.
func (c *Client) Usage() *usage.Persister { return c.usage }

// Close disconnects the stream, stops polling, flushes usage records and
// closes the credential backend.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.stream != nil {
			c.stream.Close()
		}
		c.observer.Stop()
		err = c.release()
	})
	return err
}

func (c *Client) release() error {
	var errs []error
	if c.usage != nil {
		errs = append(errs, c.usage.Stop())
	}
	errs = append(errs, c.closeBackend())
	return errors.Join(errs...)
}
