package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/expconf/internal/api"
	"github.com/eugenenazirov/expconf/internal/catalog"
	"github.com/eugenenazirov/expconf/internal/compose"
	"github.com/eugenenazirov/expconf/internal/config"
	"github.com/eugenenazirov/expconf/internal/experiment"
	"github.com/eugenenazirov/expconf/internal/rundir"
	"github.com/eugenenazirov/expconf/internal/validate"
)

// ErrInvalidConfig is returned when a composed configuration fails validation.
var ErrInvalidConfig = errors.New("configuration is invalid")

// App encapsulates the application dependencies and HTTP server.
type App struct {
	cfg       config.Config
	catalog   *catalog.MemoryCatalog
	composer  *compose.Composer
	validator *validate.Validator
	handler   *api.Handler
	router    http.Handler
	logger    *zap.Logger
	server    *http.Server
}

// Checked is a composed configuration together with its validation report.
type Checked struct {
	Result     *compose.Result
	ResolveErr error
	Report     validate.Report
}

// Run describes a prepared experiment run.
type Run struct {
	Checked
	Dir        string
	Experiment experiment.Experiment
	// Devices maps each top-level *device key to the device a driver on this
	// host would use.
	Devices map[string]string
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	confDir, err := locateConfDir(cfg.ConfDir)
	if err != nil {
		return nil, fmt.Errorf("failed to locate configuration root: %w", err)
	}
	cat, err := catalog.LoadDir(confDir, cfg.PrimaryName)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration catalog: %w", err)
	}
	logger.Debug("catalog loaded",
		zap.String("dir", confDir),
		zap.Strings("families", cat.Families()),
	)

	composer := compose.New(cat, compose.WithLogger(logger.Named("compose")))
	validator := validate.New(
		validate.WithSchemas(cat),
		validate.WithLogger(logger.Named("validate")),
	)

	handler := api.NewHandler(cat, composer, validator, api.WithHandlerLogger(logger.Named("api")))
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithMaxBodyBytes(cfg.MaxBodyBytes),
		api.WithTrustedProxies(cfg.TrustedProxies...),
	)

	rootHandler, err := BuildRootHandler(apiRouter, confDir)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP handler: %w", err)
	}

	cfg.ConfDir = confDir
	return &App{
		cfg:       cfg,
		catalog:   cat,
		composer:  composer,
		validator: validator,
		handler:   handler,
		router:    apiRouter,
		logger:    logger,
		server:    NewServer(cfg, rootHandler),
	}, nil
}

// Catalog returns the loaded configuration catalog.
func (a *App) Catalog() *catalog.MemoryCatalog {
	return a.catalog
}

// Composer returns the configuration composer.
func (a *App) Composer() *compose.Composer {
	return a.composer
}

// Check composes and validates req. A resolution failure is reported in the
// validation report rather than returned; err is only set when composition
// itself fails.
func (a *App) Check(ctx context.Context, req compose.Request) (Checked, error) {
	res, err := a.composer.Build(ctx, req)
	if err != nil {
		return Checked{}, err
	}
	resolveErr := a.composer.Resolve(res)
	report := a.validator.Validate(res, resolveErr)
	return Checked{Result: res, ResolveErr: resolveErr, Report: report}, nil
}

// Prepare composes and validates req, then creates its run directory under the
// configured output directory.
func (a *App) Prepare(ctx context.Context, req compose.Request) (Run, error) {
	checked, err := a.Check(ctx, req)
	if err != nil {
		return Run{}, err
	}
	run := Run{Checked: checked}
	if !checked.Report.Valid() {
		return run, fmt.Errorf("%w: %w", ErrInvalidConfig, checked.Report.Err())
	}

	exp, err := experiment.Decode(req.Family, checked.Result.Resolved)
	switch {
	case errors.Is(err, experiment.ErrUnknownFamily):
		a.logger.Debug("no typed view for family", zap.String("family", req.Family))
	case err != nil:
		return run, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	default:
		if err := exp.Check(); err != nil {
			return run, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		run.Experiment = exp
	}

	run.Devices = a.effectiveDevices(checked.Result.Resolved)

	dir, err := rundir.Create(ctx, checked.Result,
		rundir.WithBaseDir(a.cfg.OutputDir),
		rundir.WithLogger(a.logger.Named("rundir")),
	)
	if err != nil {
		return run, fmt.Errorf("prepare run directory: %w", err)
	}
	run.Dir = dir
	if run.Experiment != nil {
		a.logger.Info("run prepared", append(run.Experiment.Fields(), zap.String("dir", dir))...)
	}
	return run, nil
}

func (a *App) effectiveDevices(resolved map[string]any) map[string]string {
	cuda := experiment.CUDAAvailable(os.LookupEnv)
	devices := make(map[string]string)
	for key, v := range resolved {
		requested, ok := v.(string)
		if !ok || !strings.HasSuffix(key, "device") {
			continue
		}
		effective := experiment.ResolveDevice(requested, cuda)
		if effective != requested {
			a.logger.Warn("device not available, falling back",
				zap.String("key", key),
				zap.String("requested", requested),
				zap.String("device", effective),
			)
		}
		devices[key] = effective
	}
	return devices
}

// BuildRootHandler constructs the root HTTP handler that serves the raw
// configuration files read-only and routes API requests.
func BuildRootHandler(apiHandler http.Handler, confDir string) (http.Handler, error) {
	info, err := os.Stat(confDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", confDir)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /conf/", http.StripPrefix("/conf/", http.FileServer(http.Dir(confDir))))
	mux.Handle("/api/", apiHandler)
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/api/families", http.StatusFound)
	}))

	return mux, nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening",
			zap.String("addr", a.server.Addr),
			zap.String("conf_dir", a.cfg.ConfDir),
		)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// locateConfDir returns dir when it exists, otherwise searches for a relative
// dir in the parents of the working directory.
func locateConfDir(dir string) (string, error) {
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return filepath.Abs(dir)
	}
	return resolveProjectPath(dir)
}

// resolveProjectPath locates a file or directory relative to the project root by walking up the directory tree.
func resolveProjectPath(relative string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, relative)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("unable to locate %s", relative)
}
