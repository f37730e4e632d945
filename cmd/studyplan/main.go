package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	flag "github.com/spf13/pflag"

	"studyplan/internal/config"
	appLog "studyplan/internal/log"
	"studyplan/internal/pipeline"
	"studyplan/internal/web"
	"studyplan/internal/zoned"
)

const version = "0.1.0"

// flagConfig holds CLI flag values shared by all commands.
type flagConfig struct {
	configPath string
	listen     string
	logLevel   string
}

const usage = `Usage: studyplan <command> [flags]

Commands:
  plan    Build the plan once, write plan.json and plan.ics, print a summary
  serve   Serve the plan over HTTP and rebuild it on the refresh schedule

Flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("studyplan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var flags flagConfig
	fs.StringVarP(&flags.configPath, "config", "c", "config.yaml", "Path to config file")
	fs.StringVar(&flags.listen, "listen", "", "HTTP listen address (overrides config if set)")
	fs.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config if set)")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	command := fs.Arg(0)
	if command != "plan" && command != "serve" {
		fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		fs.Usage()
		return 2
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}

	// CLI flags override the config file when provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("studyplan starting", "version", version, "command", command)
	appLog.Debug("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"weekly_count", len(conf.Weekly),
		"ics_count", len(conf.ICS),
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := pipeline.NewRunner(conf, flags.configPath)

	switch command {
	case "plan":
		err = runOnce(ctx, runner, stdout)
	case "serve":
		err = serve(ctx, conf, runner)
	}
	if err != nil {
		appLog.Error("studyplan failed", err, "command", command)
		return 1
	}
	appLog.Info("studyplan exiting")
	return 0
}

// runOnce builds and writes one plan and prints its explanation.
func runOnce(ctx context.Context, runner *pipeline.Runner, stdout io.Writer) error {
	plan, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if err := runner.Write(plan); err != nil {
		return err
	}

	for _, line := range plan.Explain.Summary() {
		fmt.Fprintln(stdout, line)
	}
	for _, c := range plan.Calendars {
		if c.Diagnostics.Ignored == 0 {
			continue
		}
		fmt.Fprintf(stdout, "calendar %s: %d events ignored\n", c.ID, c.Diagnostics.Ignored)
		for _, r := range c.Diagnostics.Reasons {
			fmt.Fprintf(stdout, "  %s (%d) e.g. %v\n", r.Reason, r.Count, r.Examples)
		}
	}
	for _, w := range plan.Warnings {
		fmt.Fprintf(stdout, "warning: %s\n", w)
	}
	return nil
}

// serve builds a plan immediately, rebuilds it on the refresh schedule and
// serves the latest one until ctx is canceled.
func serve(ctx context.Context, conf *config.Config, runner *pipeline.Runner) error {
	srv := web.NewServer(conf, web.PlanFunc(runner.Run))

	refresh := func() {
		plan, err := runner.Run(ctx)
		if err != nil {
			appLog.Error("scheduled refresh failed", err)
			return
		}
		if err := runner.Write(plan); err != nil {
			appLog.Error("writing plan failed", err)
		}
		srv.Store(plan)
	}

	loc, err := zoned.Location(conf.Timezone)
	if err != nil {
		return err
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(conf.RefreshCron, refresh); err != nil {
		return fmt.Errorf("refresh schedule %q: %w", conf.RefreshCron, err)
	}

	refresh()
	c.Start()
	defer func() {
		// Wait for an in-flight refresh before exiting.
		<-c.Stop().Done()
	}()

	return web.StartServer(ctx, conf, srv)
}
