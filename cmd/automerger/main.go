package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/automerger/internal/automerge"
	"github.com/simplesurance/automerger/internal/cfg"
	"github.com/simplesurance/automerger/internal/eventfilter"
	"github.com/simplesurance/automerger/internal/githubclt"
	"github.com/simplesurance/automerger/internal/logfields"
	"github.com/simplesurance/automerger/internal/provider/github"
	"github.com/simplesurance/automerger/internal/retry"
)

const appName = "automerger"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught , terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

func startServer(name, listenAddr string, mux *http.ServeMux, listenAndServe func(*http.Server) error) {
	srv := http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	goodbye.Register(func(context.Context, os.Signal) {
		const shutdownTimeout = 30 * time.Second
		ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		logger.Debug(
			"terminating "+name+" server",
			logfields.Event(name+"_server_terminating"),
			zap.Duration("shutdown_timeout", shutdownTimeout),
		)

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Warn(
				"shutting down "+name+" server failed",
				logfields.Event(name+"_server_termination_failed"),
				zap.Error(err),
			)
		}
	})

	go func() {
		defer panicHandler()

		logger.Info(
			name+" server started",
			logfields.Event(name+"_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := listenAndServe(&srv)
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info(name+" server terminated", logfields.Event(name+"_server_terminated"))
			return
		}

		logger.Fatal(
			name+" server terminated unexpectedly",
			logfields.Event(name+"_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

func startHTTPServer(listenAddr string, mux *http.ServeMux) {
	startServer("http", listenAddr, mux, func(srv *http.Server) error {
		return srv.ListenAndServe()
	})
}

func startHTTPSServer(listenAddr, certFile, keyFile string, mux *http.ServeMux) {
	startServer("https", listenAddr, mux, func(srv *http.Server) error {
		return srv.ListenAndServeTLS(certFile, keyFile)
	})
}

type arguments struct {
	Verbose      *bool
	ConfigFile   *string
	EnvFile      *string
	ShowVersion  *bool
	PrintDefCfg  *bool
	DryRunForced *bool
}

var args arguments

const defConfigFile = "/etc/automerger/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the automerger configuration file",
		),
		EnvFile: pflag.String(
			"env-file",
			"",
			"path to a dotenv file, its variables are set as environment variables before the configuration is loaded",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
		PrintDefCfg: pflag.Bool(
			"print-default-cfg",
			false,
			"print the default configuration and exit",
		),
		DryRunForced: pflag.Bool(
			"dry-run",
			false,
			"do not change anything on github, overrides the dry_run config setting",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nMerge GitHub pull requests automatically when a merge label is set.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	if *args.EnvFile != "" {
		err := cfg.LoadEnvFile(*args.EnvFile)
		exitOnErr(fmt.Sprintf("could not load env file: %s", *args.EnvFile), err)
	}

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration files", err)
	defer file.Close()

	config, err := cfg.Load(file)
	if err != nil {
		exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
	}

	exitOnErr("could not apply environment variables", config.ApplyEnv())
	exitOnErr("invalid configuration", config.Validate())

	if *args.DryRunForced {
		config.DryRun = true
	}

	return config
}

func printDefaultCfg() {
	config, err := cfg.Load(strings.NewReader(""))
	exitOnErr("could not create default configuration", err)

	exitOnErr("could not marshal configuration", config.Marshal(os.Stdout))
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func mustInitGithubClientFactory(config *cfg.Config) automerge.ClientFactory {
	wrap := func(clt *githubclt.Client) automerge.GithubClient {
		if config.DryRun {
			return automerge.NewDryGithubClient(clt, logger)
		}

		return clt
	}

	if !config.UsesGithubApp() {
		return automerge.StaticClientFactory(wrap(githubclt.New(config.GithubAPIToken)))
	}

	key, err := config.AppPrivateKey()
	exitOnErr("could not read github app private key", err)

	factory, err := githubclt.NewAppClientFactory(config.GithubAppID, key)
	exitOnErr("could not initialize github app client", err)

	return automerge.ClientFactoryFunc(func(installationID int64) (automerge.GithubClient, error) {
		clt, err := factory.ForInstallation(installationID)
		if err != nil {
			return nil, err
		}

		return wrap(clt), nil
	})
}

func mustLabelPolicy(config *cfg.Config) *automerge.LabelPolicy {
	rules := make([]automerge.LabelRule, 0, len(config.Labels))

	for _, l := range config.Labels {
		method, err := automerge.ParseMergeMethod(l.Method)
		exitOnErr(fmt.Sprintf("label %q", l.Name), err)

		rules = append(rules, automerge.LabelRule{
			Label:       l.Name,
			Method:      method,
			Color:       l.Color,
			Description: l.Description,
		})
	}

	policy, err := automerge.NewLabelPolicy(rules...)
	exitOnErr("could not create label policy", err)

	return policy
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	if *args.PrintDefCfg {
		printDefaultCfg()
		os.Exit(0)
	}

	config := mustParseCfg()

	mustInitLogger(config)

	policy := mustLabelPolicy(config)

	filter, err := eventfilter.New(config.FilterQuery)
	exitOnErr("could not parse filter_query", err)

	logger.Info(
		"loaded cfg file",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("http_server_listen_addr", config.HTTPListenAddr),
		zap.String("https_server_listen_addr", config.HTTPSListenAddr),
		zap.String("github_webhook_endpoint", config.HTTPGithubWebhookEndpoint),
		zap.String("prometheus_metrics_endpoint", config.PrometheusMetricsEndpoint),
		zap.String("github_webhook_secret", hide(config.GithubWebHookSecret)),
		zap.String("github_api_token", hide(config.GithubAPIToken)),
		zap.Int64("github_app_id", config.GithubAppID),
		zap.String("github_app_private_key", hide(config.GithubAppPrivateKey)),
		zap.String("github_app_private_key_file", config.GithubAppPrivateKeyFile),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
		zap.Bool("dry_run", config.DryRun),
		zap.String("filter_query", filter.String()),
		zap.Int("check_suite_concurrency", config.CheckSuiteConcurrency),
		zap.Strings("merge.ready_states", config.Merge.ReadyStates),
		zap.Strings("merge.permitted_permissions", config.Merge.PermittedPermissions),
		zap.Stringer("labels", policy),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	retryer := retry.NewRetryer()
	goodbye.Register(func(context.Context, os.Signal) {
		retryer.Stop()
	})

	dispatcher := automerge.NewDispatcher(
		mustInitGithubClientFactory(config),
		automerge.NewAuthorizer(policy, config.Merge.PermittedPermissions),
		automerge.NewOrchestrator(policy, config.Merge.ReadyStates),
		automerge.NewProvisioner(policy, retryer),
		automerge.WithEventFilter(filter),
		automerge.WithCheckSuiteConcurrency(config.CheckSuiteConcurrency),
	)

	gh := github.New(
		dispatcher,
		github.WithPayloadSecret(config.GithubWebHookSecret),
	)

	mux := http.NewServeMux()

	mux.HandleFunc(config.HTTPGithubWebhookEndpoint, gh.HTTPHandler)
	logger.Info(
		"registered github webhook event http endpoint",
		logfields.Event("github_http_handler_registered"),
		zap.String("endpoint", config.HTTPGithubWebhookEndpoint),
	)

	mux.Handle(config.PrometheusMetricsEndpoint, promhttp.Handler())
	logger.Info(
		"registered prometheus metrics http endpoint",
		logfields.Event("metrics_http_handler_registered"),
		zap.String("endpoint", config.PrometheusMetricsEndpoint),
	)

	if config.HTTPListenAddr != "" {
		startHTTPServer(config.HTTPListenAddr, mux)
	}

	if config.HTTPSListenAddr != "" {
		startHTTPSServer(
			config.HTTPSListenAddr,
			config.HTTPSCertFile,
			config.HTTPSKeyFile,
			mux,
		)
	}

	select {}
}
