// Command ramdump answers page descriptor, pfn and virtual address queries
// against a captured kernel RAM image.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/subcommands"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/ramdump/internal/cfg"
	"github.com/e2b-dev/infra/packages/ramdump/pkg/logger"
	"github.com/e2b-dev/infra/packages/ramdump/pkg/telemetry"
)

const (
	serviceName = "ramdump"
	version     = "0.1.0"

	telemetryShutdownTimeout = 5 * time.Second
)

var commitSHA string

func main() {
	conf, err := cfg.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %v\n", err)
		os.Exit(int(subcommands.ExitUsageError))
	}

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(new(pfnToPageCmd), "translate")
	subcommands.Register(new(pageToPFNCmd), "translate")
	subcommands.Register(new(pageAddressCmd), "translate")
	subcommands.Register(new(pageInfoCmd), "inspect")
	subcommands.Register(new(scanCmd), "inspect")

	flag.StringVar(&conf.Image, "image", conf.Image, "capture path, gs://, s3:// or https:// location.")
	flag.StringVar(&conf.Profile, "profile", conf.Profile, "kernel profile YAML.")
	flag.IntVar(&conf.Workers, "workers", conf.Workers, "scan workers.")
	flag.BoolVar(&conf.Debug, "debug", conf.Debug, "log at debug level.")
	subcommands.ImportantFlag("image")
	subcommands.ImportantFlag("profile")

	flag.Parse()

	os.Exit(int(runCLI(conf)))
}

func runCLI(conf cfg.Config) subcommands.ExitStatus {
	sessionID := uuid.NewString()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tel, err := telemetry.New(ctx, conf.OtelCollectorGRPCEndpoint, serviceName, version+"-"+commitSHA, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up telemetry: %v\n", err)

		return subcommands.ExitFailure
	}

	tel.Install()

	defer func() {
		// ctx may already be cancelled by an interrupt.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "telemetry shutdown: %v\n", err)
		}
	}()

	l, err := logger.NewLogger(logger.LoggerConfig{
		ServiceName: serviceName,
		SessionID:   sessionID,
		IsInternal:  tel.Enabled(),
		IsDebug:     conf.Debug,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)

		return subcommands.ExitFailure
	}

	defer l.Sync()

	zap.ReplaceGlobals(l)

	open := sessionOpener(func(ctx context.Context) (*session, error) {
		return openSession(ctx, conf, os.Stdout, os.Stderr)
	})

	return subcommands.Execute(ctx, open)
}
