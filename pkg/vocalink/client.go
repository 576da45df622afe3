// Package vocalink wires configuration into ready-to-start sessions. A Client
// owns the provider lookup, the metrics pipeline and the transport defaults
// shared by every session it creates.
package vocalink

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/vocalink/pkg/audio"
	"github.com/harunnryd/vocalink/pkg/logging"
	"github.com/harunnryd/vocalink/pkg/metrics"
	"github.com/harunnryd/vocalink/pkg/observers"
	"github.com/harunnryd/vocalink/pkg/peer"
	"github.com/harunnryd/vocalink/pkg/provider"
	"github.com/harunnryd/vocalink/pkg/redact"
	"github.com/harunnryd/vocalink/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Option func(*Client)

func WithRegistry(r *provider.Registry) Option {
	return func(c *Client) { c.registry = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithObserver adds an observer next to the ones built from config.
func WithObserver(o metrics.Observer) Option {
	return func(c *Client) { c.extra = append(c.extra, o) }
}

func WithPeerFactory(f peer.Factory) Option {
	return func(c *Client) { c.peer = f }
}

func WithAudio(capture audio.Capture, playback audio.Playback) Option {
	return func(c *Client) {
		c.capture = capture
		c.playback = playback
	}
}

type Client struct {
	cfg      Config
	registry *provider.Registry
	provider provider.Provider
	params   provider.Params
	logger   *slog.Logger
	extra    []metrics.Observer
	peer     peer.Factory
	capture  audio.Capture
	playback audio.Playback

	observer metrics.Observer
	async    *metrics.AsyncObserver
	promReg  *prometheus.Registry
	timeline *observers.TimelineObserver
	closers  []func() error
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = provider.DefaultRegistry()
	}
	if c.logger == nil {
		c.logger = logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	}
	redact.SetEnabled(cfg.Privacy.RedactTranscripts)

	p, err := c.registry.Lookup(cfg.Provider)
	if err != nil {
		return nil, err
	}
	params, err := cfg.Params()
	if err != nil {
		return nil, err
	}
	c.provider = p
	c.params = params

	if c.peer == nil {
		c.peer = peer.NewPionFactory(peer.Config{
			ICE:              peer.ICEConfigFromURLs(cfg.Peer.ICEServers, cfg.Peer.ICEUsername, cfg.Peer.ICECredential),
			DataChannelLabel: cfg.Peer.DataChannelLabel,
			IncludeLoopback:  cfg.Peer.IncludeLoopback,
			DisableAudio:     cfg.Peer.DisableAudio,
			Logger:           c.logger,
		})
	}
	if err := c.buildObserver(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) buildObserver() error {
	list := append([]metrics.Observer(nil), c.extra...)
	if c.cfg.Metrics.Log {
		list = append(list, observers.NewLoggerObserver(logging.NewComponentLogger(c.logger, "metrics")))
	}
	if path := c.cfg.Metrics.JSONLPath; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("metrics.jsonl_path: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("metrics.jsonl_path: %w", err)
		}
		c.closers = append(c.closers, f.Close)
		list = append(list, metrics.NewJSONLObserver(f))
	}
	if dir := c.cfg.Metrics.TimelineDir; dir != "" {
		if days := c.cfg.Metrics.RetentionDays; days > 0 {
			removed, err := observers.PurgeTimelines(dir, time.Duration(days)*24*time.Hour, time.Now())
			if err != nil {
				c.logger.Warn("timeline_purge_failed", slog.String("error", err.Error()))
			}
			if len(removed) > 0 {
				c.logger.Info("timeline_purged", slog.Int("removed", len(removed)))
			}
		}
		c.timeline = observers.NewTimelineObserver(dir)
		list = append(list, c.timeline)
	}
	list = append(list, observers.NewLatencyObserver(logging.NewComponentLogger(c.logger, "latency")))
	c.promReg = prometheus.NewRegistry()
	list = append(list, observers.NewPrometheusObserver(c.promReg, "vocalink"))

	var obs metrics.Observer = observers.NewMultiObserver(list...)
	if rate := c.cfg.Metrics.SampleRate; rate > 0 && rate < 1 {
		obs = metrics.NewSamplingObserver(obs, rate)
	}
	c.async = metrics.NewAsyncObserver(obs, c.cfg.Metrics.Buffer)
	c.observer = c.async
	return nil
}

func (c *Client) Provider() provider.Provider { return c.provider }

func (c *Client) Params() provider.Params { return c.params }

// Observer is the metrics pipeline handed to every session.
func (c *Client) Observer() metrics.Observer { return c.observer }

// MetricsHandler serves the Prometheus exposition of every session this
// client created.
func (c *Client) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.promReg, promhttp.HandlerOpts{})
}

// NewSession builds a session for the configured provider. It does not
// connect; call Start on the result.
func (c *Client) NewSession(cb session.Callbacks) (*session.Session, error) {
	return session.New(session.Options{
		Provider:        c.provider,
		Credentials:     provider.Credentials{APIKey: c.cfg.APIKey},
		Params:          c.params,
		Deps:            c.deps(),
		Peer:            c.peer,
		Capture:         c.capture,
		Playback:        c.playback,
		Callbacks:       cb,
		Logger:          c.logger,
		Observer:        c.observer,
		ModeHoldPackets: c.cfg.Audio.ModeHoldPackets,
	})
}

func (c *Client) deps() provider.Deps {
	deps := provider.Deps{Logger: c.logger}
	if ms := c.cfg.Signaling.HTTPTimeoutMS; ms > 0 {
		deps.HTTPClient = &http.Client{Timeout: time.Duration(ms) * time.Millisecond}
	}
	if ms := c.cfg.Signaling.HandshakeTimeoutMS; ms > 0 {
		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = time.Duration(ms) * time.Millisecond
		deps.Dialer = &dialer
	}
	return deps
}

// Close flushes the metrics pipeline and releases its files.
func (c *Client) Close() error {
	if c.async != nil {
		c.async.Close()
		if n := c.async.Dropped(); n > 0 {
			c.logger.Warn("metrics_events_dropped", slog.Int64("count", n))
		}
	}
	var err error
	if c.timeline != nil {
		err = errors.Join(err, c.timeline.Close())
	}
	for _, closeFn := range c.closers {
		err = errors.Join(err, closeFn())
	}
	c.closers = nil
	return err
}
