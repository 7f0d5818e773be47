// Package app wires all DizAí subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via [Providers] and functional
// options (WithFeedbackDB, WithMetrics, ...). When an option is not provided,
// New creates real implementations from the config.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/dizai/internal/config"
	"github.com/MrWong99/dizai/internal/exercise"
	"github.com/MrWong99/dizai/internal/feedback"
	"github.com/MrWong99/dizai/internal/health"
	"github.com/MrWong99/dizai/internal/observe"
	"github.com/MrWong99/dizai/internal/pronunciation"
	"github.com/MrWong99/dizai/internal/resilience"
	"github.com/MrWong99/dizai/internal/web"
	"github.com/MrWong99/dizai/pkg/provider/conversation"
	"github.com/MrWong99/dizai/pkg/provider/llm"
	"github.com/MrWong99/dizai/pkg/provider/stt"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// Named pairs a provider with the name it was registered under.
type Named[T any] struct {
	Name     string
	Provider T
}

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM          llm.Provider
	STT          stt.Provider
	Conversation conversation.Service

	// LLMFallbacks and STTFallbacks are tried in order when the primary
	// provider fails or its circuit breaker is open.
	LLMFallbacks []Named[llm.Provider]
	STTFallbacks []Named[stt.Provider]
}

// App owns all subsystem lifetimes and serves the DizAí API.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems, initialised in New, torn down in Shutdown.
	feedbackDB feedback.DB
	state      *exercise.State
	generator  *exercise.Generator
	analyzer   *pronunciation.Analyzer
	history    *feedback.MemLog
	sink       *feedback.Async
	checkers   []health.Checker
	handler    http.Handler
	server     *http.Server

	// baseCancel aborts in-flight requests when graceful shutdown times out.
	baseCancel context.CancelFunc

	mu   sync.Mutex
	addr net.Addr

	// closers are called in order during Shutdown, after the feedback queue
	// has drained.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithFeedbackDB injects the database used by the PostgreSQL feedback sink
// instead of opening a pool from feedback.postgres_dsn.
func WithFeedbackDB(db feedback.DB) Option {
	return func(a *App) { a.feedbackDB = db }
}

// WithMetrics injects the metrics instruments instead of the global ones.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithState injects the exercise cache instead of creating an empty one.
func WithState(s *exercise.State) Option {
	return func(a *App) { a.state = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: provider failover setup,
// feedback sink connection and migration, generator and analyzer
// construction, and HTTP route assembly.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.state == nil {
		a.state = exercise.NewState()
	}

	// ── 1. Provider failover ────────────────────────────────────────────
	a.initFallbacks()

	// ── 2. Feedback sinks ───────────────────────────────────────────────
	if err := a.initFeedback(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init feedback: %w", err)
	}

	// ── 3. Exercise generator ───────────────────────────────────────────
	if err := a.initGenerator(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init generator: %w", err)
	}

	// ── 4. Pronunciation analyzer ───────────────────────────────────────
	if err := a.initAnalyzer(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init analyzer: %w", err)
	}

	// ── 5. HTTP ─────────────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// fallbackConfig is the breaker tuning shared by every failover group.
func fallbackConfig() resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  1,
		},
	}
}

// initFallbacks wraps the primary LLM and STT providers in failover groups
// when fallbacks are configured.
func (a *App) initFallbacks() {
	p := a.providers
	if p.LLM != nil && len(p.LLMFallbacks) > 0 {
		fb := resilience.NewLLMFallback(p.LLM, a.cfg.Providers.LLM.Name, fallbackConfig())
		for _, n := range p.LLMFallbacks {
			fb.AddFallback(n.Name, n.Provider)
		}
		p.LLM = fb
		a.checkers = append(a.checkers, health.Checker{Name: "llm", Check: fb.Group().Check})
		slog.Info("llm failover enabled", "primary", a.cfg.Providers.LLM.Name, "providers", fb.Group().Len())
	}
	if p.STT != nil && len(p.STTFallbacks) > 0 {
		fb := resilience.NewSTTFallback(p.STT, a.cfg.Providers.STT.Name, fallbackConfig())
		for _, n := range p.STTFallbacks {
			fb.AddFallback(n.Name, n.Provider)
		}
		p.STT = fb
		a.checkers = append(a.checkers, health.Checker{Name: "stt", Check: fb.Group().Check})
		slog.Info("stt failover enabled", "primary", a.cfg.Providers.STT.Name, "providers", fb.Group().Len())
	}
}

// initFeedback assembles every configured feedback destination behind one
// asynchronous queue.
func (a *App) initFeedback(ctx context.Context) error {
	fc := a.cfg.Feedback

	a.history = feedback.NewMemLog(fc.HistorySize, feedback.WithMaxProfiles(fc.HistoryProfiles))
	sinks := []feedback.Sink{a.history}

	if fc.FilePath != "" {
		fs := feedback.NewFileStore(fc.FilePath, feedback.WithRotation(fc.FileMaxSizeMB, fc.FileMaxBackups, fc.FileCompress))
		sinks = append(sinks, fs)
		a.closers = append(a.closers, fs.Close)
		slog.Info("feedback file log enabled", "path", fs.Path())
	}

	if a.feedbackDB == nil && fc.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, fc.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		a.feedbackDB = pool
	}
	if a.feedbackDB != nil {
		store := feedback.NewPostgresStore(a.feedbackDB)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		sinks = append(sinks, store)
		a.checkers = append(a.checkers, health.Checker{Name: "feedback_store", Check: store.Ping})
		slog.Info("feedback postgres store enabled")
	}

	if fc.ConversationLog && a.providers.Conversation != nil {
		cl, err := feedback.NewConversationLog(ctx, a.providers.Conversation, fc.GlobalConversationID)
		if err != nil {
			return err
		}
		sinks = append(sinks, cl)
		slog.Info("feedback conversation log enabled", "global_conversation_id", cl.GlobalID())
	}

	multi := feedback.NewMulti(a.metrics, sinks...)
	a.sink = feedback.NewAsync(
		multi,
		feedback.WithBuffer(fc.Buffer),
		feedback.WithAsyncMetrics(a.metrics),
	)
	slog.Info("feedback sinks ready", "sinks", multi.Len())
	return nil
}

// initGenerator builds the exercise generator when a conversation service is
// configured. A missing assistant id is fatal.
func (a *App) initGenerator() error {
	if a.providers.Conversation == nil {
		slog.Warn("no conversation service configured; exercise generation disabled")
		return nil
	}
	ec := a.cfg.Exercise
	gen, err := exercise.NewGenerator(a.providers.Conversation, ec.AssistantID, a.state,
		exercise.WithPollInterval(ec.PollInterval),
		exercise.WithMaxPolls(ec.MaxPolls),
		exercise.WithTimeout(ec.GenerationTimeout),
		exercise.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.generator = gen
	return nil
}

// initAnalyzer builds the pronunciation analyzer when both an STT and an LLM
// provider are configured.
func (a *App) initAnalyzer() error {
	if a.providers.STT == nil || a.providers.LLM == nil {
		slog.Warn("stt or llm provider missing; pronunciation analysis disabled")
		return nil
	}
	ac := a.cfg.Analysis
	an, err := pronunciation.NewAnalyzer(a.providers.STT, a.providers.LLM, a.state, a.sink,
		pronunciation.WithLanguage(ac.Language),
		pronunciation.WithTranscribeAttempts(ac.TranscribeAttempts),
		pronunciation.WithRetryInterval(ac.RetryInterval),
		pronunciation.WithTimeout(ac.Timeout),
		pronunciation.WithProviderNames(a.cfg.Providers.STT.Name, a.cfg.Providers.LLM.Name),
		pronunciation.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.analyzer = an
	return nil
}

// initHTTP assembles the route table and the server.
func (a *App) initHTTP() {
	sc := a.cfg.Server

	opts := []web.Option{
		web.WithDefaults(a.cfg.Exercise.DefaultProfile, a.cfg.Exercise.DefaultTheme),
		web.WithMaxUploadBytes(sc.MaxUploadBytes),
		web.WithAnalyzeLimit(sc.AnalyzeRate, sc.AnalyzeBurst),
		web.WithHistory(a.history),
	}
	if a.generator != nil {
		opts = append(opts, web.WithGenerator(a.generator, a.state))
	}
	if a.analyzer != nil {
		opts = append(opts, web.WithAnalyzer(a.analyzer))
	}

	mux := http.NewServeMux()
	web.New(opts...).Register(mux)
	health.New(a.checkers...).Register(mux)
	metricsPath := a.cfg.Telemetry.MetricsPath
	if metricsPath == "" {
		metricsPath = config.DefaultMetricsPath
	}
	mux.Handle("GET "+metricsPath, promhttp.Handler())

	a.handler = observe.Middleware(a.metrics)(web.CORS(sc.CORSOrigins)(mux))

	baseCtx, cancel := context.WithCancel(context.Background())
	a.baseCancel = cancel
	a.server = &http.Server{
		Addr:              sc.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// State returns the exercise cache shared by the generator and analyzer.
func (a *App) State() *exercise.State { return a.state }

// Addr returns the address the server is listening on, or nil before Run has
// bound its listener.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run binds the listener and serves HTTP until ctx is cancelled or the
// server fails. It returns ctx.Err() on cancellation; call Shutdown
// afterwards to drain in-flight work.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.server.Addr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	tls := a.cfg.Server.TLS
	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", tls != nil)

	errCh := make(chan error, 1)
	go func() {
		if tls != nil {
			errCh <- a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, drains the feedback queue and closes every
// subsystem. It respects the context deadline: if ctx expires, in-flight
// requests are aborted, remaining closers are skipped and the context error
// is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown incomplete, aborting requests", "err", err)
				a.baseCancel()
				_ = a.server.Close()
				shutdownErr = err
			}
			a.baseCancel()
		}

		if a.sink != nil {
			if err := a.sink.Close(ctx); err != nil {
				slog.Warn("feedback queue not drained", "err", err)
				shutdownErr = err
			}
		}
		if a.history != nil {
			slog.Info("feedback history discarded", "profiles", a.history.Profiles())
		}

		// Run closers in order.
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New managed to open before failing.
func (a *App) closeAll() {
	if a.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = a.sink.Close(ctx)
		cancel()
	}
	for _, closer := range a.closers {
		_ = closer()
	}
}
