// Command kcoresim boots a kernel, runs a synthetic workload against it,
// and prints the kernel's counters.
//
//	kcoresim -config kcore.toml -duration 5s
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/joeycumines/go-kcore/kconfig"
	"github.com/joeycumines/go-kcore/kernel"
	"go.uber.org/automaxprocs/maxprocs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(`kcoresim`, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String(`config`, ``, `path to a TOML config file`)
		cores      = fs.Int(`cores`, -1, `number of logical cores, overriding the config`)
		duration   = fs.Duration(`duration`, 0, `workload duration, overriding the config`)
		logLevel   = fs.String(`log-level`, ``, `log level, overriding the config`)
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := kconfig.Default()
	if *configPath != `` {
		var err error
		if cfg, err = kconfig.Load(*configPath); err != nil {
			return err
		}
	}
	if *cores >= 0 {
		cfg.Kernel.Cores = *cores
	}
	if *duration > 0 {
		cfg.Workload.Duration.Duration = *duration
	}
	if *logLevel != `` {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Log.Logger(stderr)
	if err != nil {
		return err
	}

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug().Logf(format, args...)
	}))
	if err != nil {
		logger.Warning().Err(err).Log(`failed to set GOMAXPROCS`)
	}
	defer undo()

	if limit, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.9),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	); err != nil {
		logger.Debug().Err(err).Log(`memory limit not set`)
	} else {
		logger.Debug().Int64(`limit`, limit).Log(`memory limit set`)
	}

	k, err := kernel.New(cfg.Options(logger)...)
	if err != nil {
		return err
	}
	if err := k.Start(ctx); err != nil {
		return err
	}

	runErr := runWorkload(ctx, k, &cfg.Workload, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := k.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}

	printStats(stdout, k.Stats())
	return runErr
}
