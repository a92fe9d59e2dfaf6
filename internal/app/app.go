// Package app builds the long-lived services from configuration and owns
// their lifecycle. It is the dependency container used by every command.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/bugscope/internal/api"
	"github.com/JakeFAU/bugscope/internal/bugs"
	"github.com/JakeFAU/bugscope/internal/classifier"
	"github.com/JakeFAU/bugscope/internal/clock/system"
	"github.com/JakeFAU/bugscope/internal/config"
	"github.com/JakeFAU/bugscope/internal/coordinator"
	"github.com/JakeFAU/bugscope/internal/dispatcher"
	"github.com/JakeFAU/bugscope/internal/fetcher"
	"github.com/JakeFAU/bugscope/internal/fetcher/github"
	"github.com/JakeFAU/bugscope/internal/id/uuid"
	"github.com/JakeFAU/bugscope/internal/metrics"
	"github.com/JakeFAU/bugscope/internal/policy/ratelimit"
	"github.com/JakeFAU/bugscope/internal/queue"
	queuememory "github.com/JakeFAU/bugscope/internal/queue/memory"
	queueredis "github.com/JakeFAU/bugscope/internal/queue/redis"
	"github.com/JakeFAU/bugscope/internal/scheduler"
	"github.com/JakeFAU/bugscope/internal/semantic"
	"github.com/JakeFAU/bugscope/internal/storage/memory"
	"github.com/JakeFAU/bugscope/internal/storage/postgres"
	"github.com/JakeFAU/bugscope/internal/tasks"
	"github.com/JakeFAU/bugscope/internal/textnorm"
	"github.com/JakeFAU/bugscope/internal/worker"
)

// ErrClassifierNotConfigured is returned when a classify run is requested
// without a model artifact.
var ErrClassifierNotConfigured = errors.New("classifier.artifact_dir is not configured")

// App holds the wired services.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	state      *coordinator.RunState
	repo       bugs.Repository
	queue      queue.Queue
	tasks      map[string]tasks.Task
	dispatcher *dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
	server     *api.Server
	hasModel   bool
	closers    []func()
}

// New builds every service described by cfg. It fails fast when a
// configured dependency cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, state: coordinator.New()}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	metrics.Init()
	checks := map[string]api.Pinger{}

	repo, err := a.openRepository(ctx, checks)
	if err != nil {
		return err
	}
	a.repo = repo

	if a.queue, err = a.openQueue(ctx, checks); err != nil {
		return err
	}

	normalizer, err := textnorm.New()
	if err != nil {
		return fmt.Errorf("load lemmatizer: %w", err)
	}

	var model *semantic.Model
	if cfg.Semantic.Enabled() {
		if model, err = semantic.Load(cfg.Semantic.VectorsPath, cfg.Semantic.VocabPath); err != nil {
			return fmt.Errorf("load word vectors: %w", err)
		}
		logger.Info("word vectors loaded", zap.Int("dim", model.Dim()))
	}

	engine, categories, err := a.buildEngine(repo, normalizer, model)
	if err != nil {
		return err
	}
	if mem, ok := repo.(*memory.Repository); ok {
		for _, name := range categories {
			mem.AddCategory(name)
		}
	}

	tracker, err := a.openTracker(ctx)
	if err != nil {
		return err
	}

	ids := uuid.New()
	handoff := tasks.NewHandoff(a.queue, a.state, ids, tasks.Consumers{
		Classify:  a.hasModel,
		Vectorize: model != nil,
	}, logger.Named("handoff"))
	pacer := ratelimit.New(ratelimit.Config{Interval: cfg.PageDelay(), Burst: 1})
	issueFetcher := fetcher.New(tracker, repo, a.state, pacer, handoff, fetcher.Config{
		Label:   cfg.GitHub.Label,
		PerPage: cfg.GitHub.PerPage,
	}, logger.Named("fetcher"))

	a.tasks = map[string]tasks.Task{
		tasks.NameFetch: tasks.NewFetchTask(issueFetcher, a.state, logger),
	}
	if a.hasModel {
		a.tasks[tasks.NameClassify] = tasks.NewClassifyTask(engine, a.state, cfg.PollInterval(), logger)
	}
	if model != nil {
		a.tasks[tasks.NameVectorize] = tasks.NewVectorizeTask(repo, model, a.state, cfg.PollInterval(), logger)
	}

	clock := system.New()
	workers := make([]*worker.Worker, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			a.queue,
			a.tasks,
			clock,
			worker.Config{MaxRetries: cfg.Tasks.MaxRetries},
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatcher = dispatcher.New(a.queue, workers, ids)

	if cfg.Schedule.Enabled {
		if a.scheduler, err = scheduler.New(a.dispatcher, cfg.Schedule.Fetch, logger.Named("scheduler")); err != nil {
			return err
		}
	}

	a.server = api.NewServer(a.dispatcher, a.state, checks, api.Config{
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		APIKey:         cfg.Server.APIKey,
	}, logger.Named("api"))

	logger.Info("application services initialized",
		zap.Int("workers", len(workers)),
		zap.Bool("statistical_model", a.hasModel),
		zap.Bool("word_vectors", model != nil),
		zap.Bool("schedule_enabled", cfg.Schedule.Enabled),
	)
	return nil
}

func (a *App) openRepository(ctx context.Context, checks map[string]api.Pinger) (bugs.Repository, error) {
	cfg := a.cfg.DB
	if cfg.DSN == "" {
		a.logger.Info("using in-memory repository", zap.Int("projects", len(a.cfg.Projects)))
		repo := memory.NewRepository()
		for i, p := range a.cfg.Projects {
			repo.AddProject(bugs.TrackedDBMS{ID: int64(i + 1), Name: p.Name, Repository: p.Repository, Label: p.Label})
		}
		return repo, nil
	}
	repo, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: time.Duration(cfg.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, repo.Close)
	if err := retryPing(ctx, "postgres", repo.Ping, a.logger); err != nil {
		return nil, err
	}
	if cfg.EnsureSchema {
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	checks["db"] = repo
	a.logger.Info("connected to postgres")
	return repo, nil
}

func (a *App) openQueue(ctx context.Context, checks map[string]api.Pinger) (queue.Queue, error) {
	cfg := a.cfg.Broker
	if cfg.URL == "" {
		a.logger.Info("using in-memory task queue", zap.Int("depth", cfg.QueueDepth))
		q := queuememory.NewQueue(cfg.QueueDepth)
		a.closers = append(a.closers, q.Close)
		return q, nil
	}
	q, err := queueredis.New(ctx, queueredis.Config{
		URL:            cfg.URL,
		Prefix:         cfg.Prefix,
		PollInterval:   time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		ConnectTimeout: time.Duration(cfg.ConnectTimeoutSeconds) * time.Second,
	}, a.logger.Named("broker"))
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := q.Close(); err != nil {
			a.logger.Warn("closing broker", zap.Error(err))
		}
	})
	checks["broker"] = q
	a.logger.Info("connected to redis broker")
	return q, nil
}

func (a *App) buildEngine(repo bugs.Repository, normalizer *textnorm.Normalizer, model *semantic.Model) (*classifier.Engine, []string, error) {
	cfg := a.cfg.Classifier
	table, err := classifier.DefaultKeywordTable()
	if cfg.KeywordsFile != "" {
		table, err = classifier.LoadKeywordTable(cfg.KeywordsFile)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load keyword table: %w", err)
	}
	categories := table.Categories()

	var sim classifier.Similarity
	if model != nil {
		sim = model
	}
	matcher := classifier.NewKeywordMatcher(table, sim, classifier.MatcherConfig{
		FuzzyWeight:     cfg.FuzzyWeight,
		SemanticWeight:  cfg.SemanticWeight,
		OverlapWeight:   cfg.OverlapWeight,
		AcceptanceFloor: cfg.AcceptanceFloor,
	})

	var predictor classifier.Predictor
	if cfg.ArtifactDir != "" {
		artifact, err := classifier.LoadArtifact(cfg.ArtifactDir)
		if err != nil {
			return nil, nil, fmt.Errorf("load classifier artifact: %w", err)
		}
		predictor = classifier.NewStatisticalClassifier(artifact, normalizer)
		categories = append(categories, artifact.Manifest.Classes...)
		a.hasModel = true
		a.logger.Info("classifier artifact loaded",
			zap.String("version", artifact.Manifest.Version),
			zap.Strings("classes", artifact.Manifest.Classes),
		)
	} else {
		a.logger.Warn("no classifier artifact configured, keyword matching only")
	}
	categories = append(categories, classifier.OthersLabel)
	return classifier.NewEngine(repo, matcher, predictor, a.logger.Named("classifier")), categories, nil
}

func (a *App) openTracker(ctx context.Context) (fetcher.Tracker, error) {
	cfg := a.cfg.GitHub
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if cfg.Token == "" {
		a.logger.Warn("no github token configured, using unauthenticated search")
		client, err := github.NewWithHTTPClient(&http.Client{Timeout: timeout}, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("github client: %w", err)
		}
		return client, nil
	}
	client, err := github.New(ctx, github.Config{Token: cfg.Token, BaseURL: cfg.BaseURL, Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("github client: %w", err)
	}
	return client, nil
}

func retryPing(ctx context.Context, name string, ping func(context.Context) error, logger *zap.Logger) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	op := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return ping(pingCtx)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("dependency not ready, retrying", zap.String("dependency", name), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return fmt.Errorf("%s unreachable: %w", name, err)
	}
	return nil
}

// State exposes the run state.
func (a *App) State() *coordinator.RunState { return a.state }

// Repository exposes the configured repository.
func (a *App) Repository() bugs.Repository { return a.repo }

// Handler returns the admin HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// RunOnce executes one task in the foreground without the retry harness.
func (a *App) RunOnce(ctx context.Context, name string, args map[string][]int64) (tasks.Result, error) {
	if name == tasks.NameClassify && !a.hasModel {
		return tasks.Result{}, ErrClassifierNotConfigured
	}
	task, ok := a.tasks[name]
	if !ok {
		return tasks.Result{}, fmt.Errorf("task %q is not available with the current configuration", name)
	}
	id, err := uuid.New().NewID()
	if err != nil {
		return tasks.Result{}, err
	}
	return task.Run(ctx, queue.Message{ID: id, Task: name, Args: args})
}

// Serve runs the workers, the scheduler and the admin server until ctx ends
// or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.dispatcher.Run(gctx)
		return nil
	})
	if a.scheduler != nil {
		g.Go(func() error {
			a.scheduler.Run(gctx)
			return nil
		})
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		timeout := time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close releases every opened resource in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }
