// Package main is the entrypoint for the Iris test sequencer station
// process: it loads station settings, wires the station's single active SN
// intake source and sequence registry, connects the Postgres report sink,
// and runs the orchestrator's outer loop alongside the HTTP control-plane
// server until terminated.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jotautomation/iris/internal/api"
	"github.com/jotautomation/iris/internal/api/middleware"
	"github.com/jotautomation/iris/internal/config"
	"github.com/jotautomation/iris/internal/control"
	"github.com/jotautomation/iris/internal/intake"
	"github.com/jotautomation/iris/internal/orchestrator"
	"github.com/jotautomation/iris/internal/persistence"
	"github.com/jotautomation/iris/internal/position"
	"github.com/jotautomation/iris/internal/progress"
	"github.com/jotautomation/iris/internal/sequence"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "iris-sequencer"
)

func main() {
	var (
		singleRun   = flag.Bool("single-run", false, "terminate the outer loop after one run")
		reportOff   = flag.Bool("report-off", false, "skip writing run reports to the report sink")
		dryRun      = flag.Bool("dry-run", false, "mock every configured instrument")
		mock        = flag.String("mock", "", "comma-separated instrument names to mock")
		inverseMock = flag.String("inverse-mock", "", "comma-separated instrument names NOT to mock")
		verbose     = flag.Bool("verbose", false, "enable debug logging regardless of SEQUENCER_API_LOG_LEVEL")
		versionFlag = flag.Bool("version", false, "show version information")
	)
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()
	if *verbose {
		serverConfig.LogLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: serverConfig.LogLevel}))
	slog.SetDefault(logger)

	logger.Info("starting station", slog.String("service", name), slog.String("version", version))

	if err := run(logger, serverConfig, *singleRun, *reportOff, *dryRun, *mock, *inverseMock); err != nil {
		logger.Error("station stopped with an error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("station stopped")
}

func run(logger *slog.Logger, serverConfig api.ServerConfig, singleRun, reportOff, dryRun bool, mock, inverseMock string) error {
	settings, err := config.LoadStationSettings()
	if err != nil {
		return err
	}

	if err := settings.Validate(); err != nil {
		return err
	}

	registry := sequence.NewRegistry()
	if err := registry.LoadDir(settings.SequenceDir); err != nil {
		return err
	}

	tc := control.NewTestControl()
	tc.SetSingleRun(singleRun)
	tc.SetReportOff(reportOff)
	tc.SetDryRun(dryRun)
	tc.SetMock(config.ParseCommaSeparatedList(mock))
	tc.SetInverseMock(config.ParseCommaSeparatedList(inverseMock))
	tc.SetSNSource(settings.SNFromUI, settings.SNExternally)
	tc.SetTestSequences(registry.SequenceNames())
	tc.SetGageRR(settings.GageRRConfig())

	positions := make([]*position.TestPosition, 0, len(settings.TestPositions))
	for _, p := range settings.TestPositions {
		positions = append(positions, position.New(p, p))
	}

	reporter := progress.New()

	in, intakeCloser, err := config.BuildIntake(
		settings,
		registry.DutsFor,
		externalIntakeConfigFromEnv(),
		nil, // no instrument-driven SN source is wired on this station
		registry.SequenceNames(),
		logger,
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := intakeCloser.Close(); err != nil {
			logger.Warn("failed to close SN intake", slog.String("error", err.Error()))
		}
	}()

	uiIntake, _ := in.(*intake.UIIntake)

	dbConfig := persistence.LoadConfig()
	if err := dbConfig.Validate(); err != nil {
		return err
	}

	conn, err := persistence.NewConnection(dbConfig)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Warn("failed to close database connection", slog.String("error", err.Error()))
		}
	}()

	logger.Info("connected to report database", slog.String("database_url", dbConfig.MaskDatabaseURL()))

	callerKeyStore := persistence.NewPostgresCallerKeyStore(conn, logger)
	reportSink := persistence.NewPostgresReportSink(conn, logger)

	rateLimiter := middleware.NewInMemoryRateLimiter(middleware.LoadConfig())

	server := api.NewServer(&serverConfig, callerKeyStore, rateLimiter, tc, uiIntake, reporter, registry, version)

	orch := orchestrator.New(
		tc,
		positions,
		registry,
		reporter,
		in,
		reportSink,
		reportSink,
		nil, // no hardware instrument drivers are wired on this station
		settings.OrchestratorConfig(),
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchDone := make(chan error, 1)

	go func() {
		orchDone <- orch.Start(ctx)
	}()

	// server.Start() installs its own SIGINT/SIGTERM handling and blocks
	// until graceful shutdown completes; the same signal also cancels ctx
	// above, which wakes the orchestrator's run-control gate below so both
	// shut down together.
	go func() {
		<-ctx.Done()
		tc.Terminate()
	}()

	if err := server.Start(); err != nil {
		return err
	}

	if err := <-orchDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// externalIntakeConfigFromEnv reads the Kafka connection details the
// station's control-event stream uses when SN_EXTERNALLY is configured.
func externalIntakeConfigFromEnv() config.ExternalIntakeConfig {
	return config.ExternalIntakeConfig{
		Brokers: config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "")),
		Topic:   config.GetEnvStr("KAFKA_CONTROL_EVENTS_TOPIC", "control-events"),
		GroupID: config.GetEnvStr("KAFKA_CONSUMER_GROUP", "iris-sequencer"),
	}
}
