package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/mikeschinkel/infinite-fuzz-go/config"
	"github.com/mikeschinkel/infinite-fuzz-go/internal/discover"
	"github.com/mikeschinkel/infinite-fuzz-go/internal/killer"
	"github.com/mikeschinkel/infinite-fuzz-go/internal/orchestrator"
	"github.com/mikeschinkel/infinite-fuzz-go/internal/report"
	"github.com/mikeschinkel/infinite-fuzz-go/internal/runner"
	"github.com/mikeschinkel/infinite-fuzz-go/internal/track"
	"github.com/mikeschinkel/infinite-fuzz-go/pkg/logger"
	"github.com/mikeschinkel/infinite-fuzz-go/pkg/watchdog"
)

// Exit code after signal-triggered cleanup, 128+SIGINT by convention.
const signalExitCode = 130

var (
	targetsCSV string
	killMode   bool
)

var rootCmd = &cobra.Command{
	Use:   "infinitefuzz",
	Short: "Run every Go fuzz target in the current package, forever",
	Long: `infinitefuzz discovers the FuzzXxx functions in the current package's
*_test.go files and runs each one as a continuously restarting
"go test -fuzz" worker. Workers run until you interrupt the process;
failing inputs stay under testdata/fuzz/<Target> as usual.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if killMode {
			runKill()
			return
		}
		runOrchestration()
	},
}

func main() {
	rootCmd.Flags().StringVarP(&targetsCSV, "targets", "t", "", "comma-separated fuzz targets to run instead of discovery")
	rootCmd.Flags().BoolVarP(&killMode, "kill", "k", false, "kill fuzz processes left over from previous runs, then exit")

	if err := rootCmd.Execute(); err != nil {
		// bad flags land on the usage path, which exits zero like help
		os.Exit(0)
	}
}

func runKill() {
	appConfig := config.LoadConfig("")
	lg := logger.NewLogger(appConfig)
	defer lg.Sync()
	killer.New(lg, appConfig).Run()
}

func runOrchestration() {
	app := fx.New(
		fx.Provide(
			loadConfig,          // inject config
			logger.NewLogger,    // inject logger
			track.NewTracker,    // inject worker process tracker
			discover.NewDiscoverer,
			watchdog.NewFactory, // inject artifact watcher factory
			report.NewReporter,  // inject artifact reporter
			runner.NewRunner,    // inject supervised runner
		),
		fx.Invoke(orchestrator.New),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		os.Exit(1)
	}

	// runners never finish on their own; block until SIGINT/SIGTERM
	sig := <-app.Wait()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		os.Exit(1)
	}

	if sig.ExitCode != 0 {
		os.Exit(sig.ExitCode)
	}
	os.Exit(signalExitCode)
}

func loadConfig() *config.AppConfig {
	return config.LoadConfig(targetsCSV)
}
