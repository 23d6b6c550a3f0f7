package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/eugenenazirov/expconf/internal/application"
	"github.com/eugenenazirov/expconf/internal/compose"
	"github.com/eugenenazirov/expconf/internal/config"
	"github.com/eugenenazirov/expconf/internal/logging"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var signalNotify = signal.Notify

// errCheckFailed marks a command that ran but found the configuration invalid.
var errCheckFailed = errors.New("configuration check failed")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// requestArgs are the positional arguments shared by commands that compose a
// configuration.
type requestArgs struct {
	family    *string
	overrides *[]string
}

func (r requestArgs) request() compose.Request {
	return compose.Request{Family: *r.family, Overrides: *r.overrides}
}

func addRequestArgs(cmd *kingpin.CmdClause) requestArgs {
	return requestArgs{
		family:    cmd.Arg("family", "Experiment family (a directory under the configuration root)").Required().String(),
		overrides: cmd.Arg("overrides", "Overrides such as overrides=heating, seed=3, +key=v, ~key").Strings(),
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	kingpinApp := kingpin.New("expconf", "Hierarchical experiment configuration: compose, validate and prepare runs")
	kingpinApp.UsageWriter(stderr)
	kingpinApp.ErrorWriter(stderr)
	kingpinApp.Terminate(nil)

	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	envFile := kingpinApp.Flag("env-file", "Dotenv file loaded into the environment; existing variables win").String()
	confDir := kingpinApp.Flag("conf-dir", "Configuration root holding one directory per family").String()
	primary := kingpinApp.Flag("primary", "Primary document name inside each family").String()
	outputDir := kingpinApp.Flag("output-dir", "Directory that anchors relative run directories").String()
	logLevel := kingpinApp.Flag("log-level", "Log level (debug, info, warn, error)").String()
	format := kingpinApp.Flag("format", "Output format").Default(formatYAML).Enum(formatYAML, formatJSON)

	familiesCmd := kingpinApp.Command("families", "List configuration families and their groups")

	composeCmd := kingpinApp.Command("compose", "Print the composed configuration")
	composeArgs := addRequestArgs(composeCmd)
	resolve := composeCmd.Flag("resolve", "Resolve interpolations before printing").Default("true").Bool()

	validateCmd := kingpinApp.Command("validate", "Compose and validate a configuration")
	validateArgs := addRequestArgs(validateCmd)

	queryCmd := kingpinApp.Command("query", "Evaluate a JSONPath expression against the resolved configuration")
	queryFamily := queryCmd.Arg("family", "Experiment family").Required().String()
	queryPath := queryCmd.Arg("path", "JSONPath expression, e.g. $.env_name").Required().String()
	queryOverrides := queryCmd.Arg("overrides", "Overrides applied before the query").Strings()

	runCmd := kingpinApp.Command("run", "Validate a configuration and create its run directory")
	runArgs := addRequestArgs(runCmd)

	serveCmd := kingpinApp.Command("serve", "Serve the configuration API over HTTP")
	port := serveCmd.Flag("port", "HTTP port exposed by the service").String()
	rateLimitRPSFlag := serveCmd.Flag("rate-limit-rps", "Requests per second allowed per client (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := serveCmd.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()

	command, err := kingpinApp.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "expconf: %v\n", err)
		return exitUsage
	}
	if command == "" {
		// --help was handled by kingpin.
		return exitOK
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(stderr, "expconf: failed to load env file: %v\n", err)
			return exitUsage
		}
	}

	overrides := &config.CLIOverrides{ConfigFile: *configFile}
	setFlag(&overrides.ConfDir, *confDir)
	setFlag(&overrides.PrimaryName, *primary)
	setFlag(&overrides.OutputDir, *outputDir)
	setFlag(&overrides.LogLevel, *logLevel)
	setFlag(&overrides.Port, *port)
	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}
	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		fmt.Fprintf(stderr, "expconf: failed to load configuration: %v\n", err)
		return exitUsage
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "expconf: failed to initialize logger: %v\n", err)
		return exitFailure
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", zap.Error(err))
		fmt.Fprintf(stderr, "expconf: %v\n", err)
		return exitFailure
	}

	ctx := context.Background()
	out := newPrinter(stdout, *format)

	switch command {
	case familiesCmd.FullCommand():
		err = listFamilies(app, out)
	case composeCmd.FullCommand():
		err = composeConfig(ctx, app, out, composeArgs.request(), *resolve)
	case validateCmd.FullCommand():
		err = validateConfig(ctx, app, out, validateArgs.request())
	case queryCmd.FullCommand():
		err = queryConfig(ctx, app, out, compose.Request{Family: *queryFamily, Overrides: *queryOverrides}, *queryPath)
	case runCmd.FullCommand():
		err = prepareRun(ctx, app, out, runArgs.request())
	case serveCmd.FullCommand():
		if err = app.Start(); err == nil {
			shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)
		}
	}

	switch {
	case errors.Is(err, errCheckFailed):
		return exitFailure
	case err != nil:
		fmt.Fprintf(stderr, "expconf %s: %v\n", command, err)
		return exitFailure
	}
	return exitOK
}

func setFlag(dst **string, value string) {
	if value != "" {
		*dst = &value
	}
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
