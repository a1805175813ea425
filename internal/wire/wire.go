// Package wire provides dependency injection for stagehand.
// It creates singleton services with lazy initialization.
package wire

import (
	"database/sql"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	cliadapter "github.com/example/stagehand/internal/adapters/cli"
	"github.com/example/stagehand/internal/adapters/composer"
	"github.com/example/stagehand/internal/adapters/filesystem"
	"github.com/example/stagehand/internal/adapters/natsbus"
	"github.com/example/stagehand/internal/adapters/redislock"
	"github.com/example/stagehand/internal/adapters/releases"
	"github.com/example/stagehand/internal/adapters/sqlite"
	"github.com/example/stagehand/internal/app"
	"github.com/example/stagehand/internal/config"
	"github.com/example/stagehand/internal/core/policy"
	"github.com/example/stagehand/internal/db"
	"github.com/example/stagehand/internal/logging"
	"github.com/example/stagehand/internal/metrics"
	"github.com/example/stagehand/internal/ports/primary"
	"github.com/example/stagehand/internal/ports/secondary"
)

// Options selects how the services are built. They must be set before the
// first service is requested.
type Options struct {
	ConfigPath string
	Trigger    policy.Trigger
	LogOutput  io.Writer
}

const releaseFetchTimeout = 30 * time.Second

var (
	options      = Options{Trigger: policy.TriggerInteractive}
	cfg          *config.Config
	logger       zerolog.Logger
	stageService primary.StageService
	closers      []func() error
	textfile     *metrics.Prom
	initErr      error
	once         sync.Once
)

// Configure sets the options used by the lazy initialization. Calls after
// the services were built have no effect.
func Configure(opts Options) {
	if opts.Trigger == "" {
		opts.Trigger = policy.TriggerInteractive
	}
	options = opts
}

// StageService returns the singleton StageService instance.
func StageService() (primary.StageService, error) {
	once.Do(initServices)
	return stageService, initErr
}

// Config returns the loaded configuration.
func Config() (*config.Config, error) {
	once.Do(initServices)
	return cfg, initErr
}

// Logger returns the process logger. Before initialization succeeds it is
// a disabled logger.
func Logger() zerolog.Logger {
	once.Do(initServices)
	return logger
}

// StageAdapter returns a new StageAdapter writing to out.
// Each call creates a new adapter (adapters are stateless translators).
func StageAdapter(out io.Writer, jsonOutput bool) (*cliadapter.StageAdapter, error) {
	svc, err := StageService()
	if err != nil {
		return nil, err
	}
	return cliadapter.NewStageAdapter(svc, out, jsonOutput), nil
}

// Close flushes metrics and releases connections held by the services.
func Close() error {
	var firstErr error
	if textfile != nil && cfg != nil {
		if err := textfile.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn().Err(err).Str("path", cfg.Metrics.Textfile).Msg("failed to write metrics textfile")
			firstErr = err
		}
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	closers = nil
	return firstErr
}

// initServices initializes all services and their dependencies.
// This is called once via sync.Once.
func initServices() {
	logger = zerolog.Nop()

	loaded, err := config.Load(options.ConfigPath, os.Getenv)
	if err != nil {
		initErr = err
		return
	}
	cfg = loaded

	logCfg := logging.DefaultConfig()
	logging.ApplyEnvOverrides(&logCfg, os.Getenv)
	out := options.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger = logging.New("stagehand", out, logCfg)

	database, err := db.Open(cfg.StateDir)
	if err != nil {
		initErr = err
		return
	}
	closers = append(closers, database.Close)

	locks, err := lockRepository(database)
	if err != nil {
		initErr = err
		return
	}

	var recorder secondary.Metrics = metrics.Noop{}
	if cfg.Metrics.Textfile != "" {
		textfile = metrics.NewProm("stagehand")
		recorder = textfile
	}

	// Create repository adapters (secondary ports) - sqlite adapters with injected DB
	stages := sqlite.NewStageRepository(database)
	eventLog := sqlite.NewEventLogRepository(database)
	workspace := filesystem.NewWorkspaceAdapter()
	packages := composer.NewManager(composer.ExecRunner{}, cfg.PackageManager.Binary, cfg.PackageManager.Timeout, logger)

	dispatcher := app.NewEventDispatcher(eventLog, recorder, logger)
	dispatcher.Subscribe(app.NewPackageManagerValidator(packages))
	dispatcher.Subscribe(app.NewDiskSpaceValidator(workspace, cfg.StageRoot, cfg.MinFreeDiskBytes()))
	dispatcher.Subscribe(app.NewLockFileValidator(workspace, stages, cfg.LockFilePath()))
	dispatcher.Subscribe(app.NewPendingStageValidator(locks, time.Now))

	if cfg.ReleaseFeed != "" {
		source, err := releases.NewSource(cfg.ReleaseFeed, cfg.ReleaseSources, &http.Client{Timeout: releaseFetchTimeout})
		if err != nil {
			initErr = err
			return
		}
		engine := policy.NewEngine(policy.DefaultRules(), cfg.SupersessionPolicy())
		dispatcher.Subscribe(app.NewVersionPolicyValidator(engine, source, packages, cfg.Project, cfg.CorePackage, cfg.PolicyConfig(options.Trigger)))
	}

	if cfg.Events.NatsURL != "" {
		publisher, err := natsbus.Connect(cfg.Events.NatsURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			// Events are informational; the lifecycle proceeds without them.
			logger.Warn().Err(err).Str("url", cfg.Events.NatsURL).Msg("event publisher unavailable")
		} else {
			dispatcher.Subscribe(publisher)
			closers = append(closers, func() error { publisher.Close(); return nil })
		}
	}

	hooks := make([]app.Hook, 0, len(cfg.PostApply))
	for _, h := range cfg.PostApply {
		hooks = append(hooks, app.Hook{Name: h.Name, Command: h.Command})
	}

	// Create services (primary ports implementation)
	stageService = app.NewStageService(app.StageDeps{
		Locks:      locks,
		Stages:     stages,
		Destroyed:  sqlite.NewDestroyedStageRepository(database),
		Marker:     filesystem.NewFailureMarker(cfg.StateDir),
		Workspace:  workspace,
		Packages:   packages,
		Runner:     composer.ExecRunner{},
		EventLog:   eventLog,
		Executor:   app.NewEffectExecutor(logger),
		Dispatcher: dispatcher,
		Metrics:    recorder,
		Logger:     logger,
	}, app.StageConfig{
		ProjectRoot:    cfg.ProjectRoot,
		StageRoot:      cfg.StageRoot,
		LockFile:       cfg.LockFilePath(),
		Exclude:        cfg.Exclude,
		PostApply:      hooks,
		RequireTimeout: cfg.PackageManager.Timeout,
	})
}

func lockRepository(database *sql.DB) (secondary.LockRepository, error) {
	if cfg.LockBackend != config.LockBackendRedis {
		return sqlite.NewLockRepository(database), nil
	}
	store, err := redislock.NewLockStore(cfg.RedisURL, "stagehand:"+filepath.Base(cfg.StateDir))
	if err != nil {
		return nil, err
	}
	closers = append(closers, store.Close)
	return store, nil
}
