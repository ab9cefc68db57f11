// Package app wires all robotface subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds telemetry, the playback
// sink, the session manager and the HTTP server from a config; Run serves
// until the context is cancelled; Shutdown tears everything down in order.
//
// For testing, inject a sink or telemetry provider via functional options.
// When an option is not provided, New creates real implementations from the
// config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/robotface/internal/config"
	"github.com/MrWong99/robotface/internal/detection"
	"github.com/MrWong99/robotface/internal/health"
	"github.com/MrWong99/robotface/internal/observe"
	"github.com/MrWong99/robotface/internal/resilience"
	"github.com/MrWong99/robotface/internal/session"
	"github.com/MrWong99/robotface/internal/web"
	"github.com/MrWong99/robotface/pkg/audio"
	"github.com/MrWong99/robotface/pkg/audio/speaker"
	"github.com/MrWong99/robotface/pkg/audio/wav"
	"github.com/MrWong99/robotface/pkg/tone"
)

// shutdownTimeout bounds the HTTP server drain when Run's context ends.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	version  string
	levelVar *slog.LevelVar

	telemetry *observe.Provider
	ownsTel   bool
	metrics   *observe.Metrics

	sink     audio.Sink
	sinkName string
	breaker  *resilience.CircuitBreaker
	sessions *session.Manager
	watcher  *config.Watcher

	handler http.Handler
	server  *http.Server

	lnMu sync.Mutex
	ln   net.Listener

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithSink injects a playback sink instead of building one from
// playback.sink.
func WithSink(name string, sink audio.Sink) Option {
	return func(a *App) {
		a.sinkName = name
		a.sink = sink
	}
}

// WithTelemetry injects an initialised telemetry provider. The caller keeps
// ownership and shuts it down.
func WithTelemetry(p *observe.Provider) Option {
	return func(a *App) { a.telemetry = p }
}

// WithLevelVar lets config reloads change the level of the caller's logger.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithWatcher runs w alongside the HTTP server. The watcher's callback
// should call [App.ApplyConfig].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithVersion sets the version reported on /healthz and in telemetry.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App from cfg. cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.levelVar == nil {
		a.levelVar = new(slog.LevelVar)
		a.levelVar.Set(cfg.Server.LogLevel.Level())
	}

	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	if err := a.initSink(); err != nil {
		a.closeTelemetry(ctx)
		return nil, fmt.Errorf("app: init playback: %w", err)
	}
	a.initSessions()
	a.initHTTP()
	return a, nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	if a.telemetry == nil {
		p, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    a.cfg.Telemetry.ServiceName,
			ServiceVersion: a.version,
		})
		if err != nil {
			return err
		}
		a.telemetry = p
		a.ownsTel = true
	}
	m, err := observe.NewMetrics(a.telemetry.MeterProvider())
	if err != nil {
		a.closeTelemetry(ctx)
		return err
	}
	a.metrics = m
	return nil
}

func (a *App) closeTelemetry(ctx context.Context) {
	if a.ownsTel {
		_ = a.telemetry.Shutdown(ctx)
	}
}

// initSink builds the device sink. A missing audio device is not fatal: the
// server runs with a sink that always fails with
// [audio.ErrPlaybackUnavailable], which opens the breaker and marks the
// server unready.
func (a *App) initSink() error {
	if a.sink != nil {
		return nil
	}
	pb := a.cfg.Playback
	a.sinkName = string(pb.Sink)

	switch pb.Sink {
	case config.SinkSpeaker:
		spk, err := speaker.New(audio.Format{SampleRate: tone.SampleRate, Channels: tone.Channels})
		if err != nil {
			slog.Warn("audio device unavailable, cues will only reach browsers", "err", err)
			a.sink = audio.Unavailable(err)
			return nil
		}
		a.sink = spk
	case config.SinkWAV:
		ds, err := wav.NewDirSink(pb.WAVDir)
		if err != nil {
			return err
		}
		a.sink = ds
	case config.SinkWebSocket, config.SinkNone:
		// No device playback.
	default:
		return fmt.Errorf("unknown sink %q", pb.Sink)
	}
	return nil
}

func (a *App) initSessions() {
	pb := a.cfg.Playback
	opts := []session.Option{
		session.WithMetrics(a.metrics),
		session.WithQueueSize(pb.QueueSize),
		session.WithDefaults(detectionSettings(a.cfg)),
		session.WithTone(toneSettings(a.cfg)),
		session.WithBrowserAudio(pb.Sink != config.SinkNone),
	}
	if a.sink != nil {
		a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         a.sinkName,
			MaxFailures:  pb.Breaker.MaxFailures,
			ResetTimeout: pb.Breaker.ResetTimeout,
			OnStateChange: func(name string, _, to resilience.State) {
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		})
		opts = append(opts,
			session.WithSink(a.sinkName, a.sink),
			session.WithBreaker(a.breaker))
	}
	a.sessions = session.NewManager(opts...)
	a.closers = append(a.closers, a.sessions.Close)
}

func (a *App) initHTTP() {
	hopts := []health.Option{health.WithVersion(a.version)}
	if a.breaker != nil {
		hopts = append(hopts, health.WithChecker("playback", a.breaker.Check))
	}
	srv := web.New(a.sessions,
		web.WithMetrics(a.metrics),
		web.WithHealth(health.New(hopts...)),
		web.WithMetricsHandler(a.telemetry.Handler()),
	)
	a.handler = srv.Handler()
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func detectionSettings(cfg *config.Config) detection.Settings {
	return detection.Settings{
		Threshold:    cfg.Detection.Threshold(),
		SoundEnabled: cfg.Detection.Sound(),
		HistorySize:  cfg.Detection.HistorySize,
	}
}

func toneSettings(cfg *config.Config) session.ToneSettings {
	return session.ToneSettings{
		Synth:    tone.NewSynthesizer(cfg.Tone.Frequencies),
		Duration: cfg.Tone.Duration,
		Volume:   cfg.Tone.Volume,
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// SinkName returns the name of the active playback sink, or "none".
func (a *App) SinkName() string {
	if a.sink == nil {
		return string(config.SinkNone)
	}
	return a.sinkName
}

// Listen binds the listen address. Run calls it when it has not been called.
func (a *App) Listen() (net.Addr, error) {
	a.lnMu.Lock()
	defer a.lnMu.Unlock()
	if a.ln == nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return nil, fmt.Errorf("app: listen on %s: %w", a.server.Addr, err)
		}
		a.ln = ln
	}
	return a.ln.Addr(), nil
}

// Run serves HTTP and, when configured, watches the config file until ctx is
// cancelled. It returns nil on a clean stop.
func (a *App) Run(ctx context.Context) error {
	addr, err := a.Listen()
	if err != nil {
		return err
	}
	slog.Info("http server listening", "addr", addr.String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.server.Serve(a.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	return g.Wait()
}

// ApplyConfig applies the hot-reloadable part of a config change: log
// level, defaults for new sessions and tone settings.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.levelVar.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DefaultsChanged {
		a.sessions.SetDefaults(detectionSettings(new))
		slog.Info("session defaults changed",
			"threshold", new.Detection.Threshold(),
			"sound_enabled", new.Detection.Sound(),
			"history_size", new.Detection.HistorySize)
	}
	if d.ToneChanged {
		a.sessions.SetTone(toneSettings(new))
		slog.Info("tone settings changed",
			"duration", new.Tone.Duration,
			"volume", new.Tone.Volume,
			"overrides", len(new.Tone.Frequencies))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "fields", d.RestartRequired)
	}
}

// Shutdown ends all sessions and flushes telemetry. It is safe to call more
// than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.lnMu.Lock()
		if a.ln != nil {
			_ = a.server.Close()
			_ = a.ln.Close()
		}
		a.lnMu.Unlock()

		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.ownsTel {
			if err := a.telemetry.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: telemetry shutdown: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}
