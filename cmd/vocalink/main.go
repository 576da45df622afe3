// vocalink opens a realtime voice session with a provider and chats with it
// over stdin. Typed lines are sent as user messages; finalized transcripts
// from both sides are printed to stdout.
//
// Configuration comes from --config (YAML, JSON or TOML) or, without it,
// from VOCALINK_* environment variables. Flags override both.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/harunnryd/vocalink/pkg/conversation"
	"github.com/harunnryd/vocalink/pkg/errorsx"
	"github.com/harunnryd/vocalink/pkg/logging"
	"github.com/harunnryd/vocalink/pkg/redact"
	"github.com/harunnryd/vocalink/pkg/runner"
	"github.com/harunnryd/vocalink/pkg/session"
	"github.com/harunnryd/vocalink/pkg/vocalink"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath   string
	provider     string
	apiKey       string
	origin       string
	model        string
	voice        string
	instructions string
	logLevel     string
	logFormat    string
	loopback     bool
	noAudio      bool
	metricsJSONL string
	timelineDir  string
	metricsAddr  string
	printConfig  bool
	noBanner     bool
	version      bool
}

func parseFlags(args []string, stderr io.Writer) (*pflag.FlagSet, flags, error) {
	var f flags
	fs := pflag.NewFlagSet("vocalink", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&f.configPath, "config", "c", "", "path to a config file")
	fs.StringVarP(&f.provider, "provider", "p", "", "provider name (openai, outspeed)")
	fs.StringVar(&f.apiKey, "api-key", "", "provider API key (prefer VOCALINK_API_KEY)")
	fs.StringVar(&f.origin, "origin", "", "override the provider origin URL")
	fs.StringVar(&f.model, "model", "", "realtime model")
	fs.StringVar(&f.voice, "voice", "", "assistant voice")
	fs.StringVar(&f.instructions, "instructions", "", "system instructions for the assistant")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "", "text or json")
	fs.BoolVar(&f.loopback, "loopback", false, "gather loopback ICE candidates")
	fs.BoolVar(&f.noAudio, "no-audio", false, "negotiate a receive-only audio transceiver")
	fs.StringVar(&f.metricsJSONL, "metrics-jsonl", "", "append metrics events to this JSONL file")
	fs.StringVar(&f.timelineDir, "timeline-dir", "", "write one JSONL timeline per session into this directory")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	fs.BoolVar(&f.printConfig, "print-config", false, "print the effective configuration and exit")
	fs.BoolVar(&f.noBanner, "no-banner", false, "skip the startup banner")
	fs.BoolVar(&f.version, "version", false, "print the version and exit")
	err := fs.Parse(args)
	return fs, f, err
}

func loadConfig(fs *pflag.FlagSet, f flags) (vocalink.Config, error) {
	var (
		cfg vocalink.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = vocalink.LoadConfig(f.configPath)
	} else {
		cfg, err = vocalink.ConfigFromEnv()
	}
	if err != nil {
		return vocalink.Config{}, err
	}

	if fs.Changed("provider") {
		cfg.Provider = f.provider
	}
	if fs.Changed("api-key") {
		cfg.APIKey = f.apiKey
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if fs.Changed("loopback") {
		cfg.Peer.IncludeLoopback = f.loopback
	}
	if fs.Changed("no-audio") {
		cfg.Peer.DisableAudio = f.noAudio
	}
	if fs.Changed("metrics-jsonl") {
		cfg.Metrics.JSONLPath = f.metricsJSONL
	}
	if fs.Changed("timeline-dir") {
		cfg.Metrics.TimelineDir = f.timelineDir
	}
	settings := map[string]string{
		"origin":       f.origin,
		"model":        f.model,
		"voice":        f.voice,
		"instructions": f.instructions,
	}
	for key, value := range settings {
		if !fs.Changed(key) {
			continue
		}
		if cfg.ProviderSettings == nil {
			cfg.ProviderSettings = make(map[string]any)
		}
		cfg.ProviderSettings[key] = value
	}
	if err := cfg.Validate(); err != nil {
		return vocalink.Config{}, err
	}
	return cfg, nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs, f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if f.version {
		fmt.Fprintf(stdout, "vocalink %s\n", runner.Version)
		return nil
	}
	cfg, err := loadConfig(fs, f)
	if err != nil {
		return err
	}
	if f.printConfig {
		return printConfig(stdout, cfg)
	}

	logger := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	client, err := vocalink.NewClient(cfg, vocalink.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	if f.metricsAddr != "" {
		_, shutdown, err := serveMetrics(f.metricsAddr, client.MetricsHandler(), logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := client.NewSession(printer(stdout, stderr))
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	go func() {
		<-s.Done()
		cancel()
	}()

	lc := runner.NewLifecycleRunner(runner.DrainerFunc(func(drainCtx context.Context) error {
		_ = s.Stop()
		select {
		case <-s.Done():
			return s.Err()
		case <-drainCtx.Done():
			return drainCtx.Err()
		}
	}), runner.Hooks{
		OnStart: func() {
			go chat(ctx, s, stdin, stderr, cancel)
		},
	}, 5*time.Second)
	if !f.noBanner {
		lc.WithBanner(stderr, "VOCALINK")
	}
	return lc.Run(ctx)
}

// printConfig writes cfg as YAML with the API key masked.
func printConfig(w io.Writer, cfg vocalink.Config) error {
	cfg.APIKey = redact.Secret(cfg.APIKey)
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = w.Write(out)
	return err
}

// serveMetrics exposes handler at /metrics and returns the bound address.
func serveMetrics(addr string, handler http.Handler, logger *slog.Logger) (net.Addr, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics_server_started", slog.String("addr", ln.Addr().String()))
	return ln.Addr(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func printer(stdout, stderr io.Writer) session.Callbacks {
	return session.Callbacks{
		OnStatusChange: func(st session.Status) {
			fmt.Fprintf(stderr, "[%s]\n", st)
		},
		OnModeChange: func(m session.Mode) {
			fmt.Fprintf(stderr, "[assistant %s]\n", m)
		},
		OnMessage: func(item conversation.Item) {
			fmt.Fprintf(stdout, "%s: %s\n", item.Role, item.Text)
		},
		OnError: func(err error) {
			fmt.Fprintf(stderr, "session error: %v\n", err)
		},
		OnConnect: func() {
			fmt.Fprintln(stderr, "connected; type a message, /quit to leave")
		},
	}
}

// chat forwards stdin lines until EOF or /quit.
func chat(ctx context.Context, s *session.Session, stdin io.Reader, stderr io.Writer, quit context.CancelFunc) {
	defer quit()
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return
		}
		if s.Status() != session.StatusConnected {
			fmt.Fprintf(stderr, "not connected (%s); message dropped\n", s.Status())
			continue
		}
		if err := s.SendText(line); err != nil {
			fmt.Fprintf(stderr, "send failed: %v\n", err)
			if errorsx.IsFatal(err) {
				return
			}
		}
	}
}
