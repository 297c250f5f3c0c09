package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/airsenal-launcher/internal/config"
	"github.com/mattjoyce/airsenal-launcher/internal/dispatch"
	"github.com/mattjoyce/airsenal-launcher/internal/doctor"
	"github.com/mattjoyce/airsenal-launcher/internal/launch"
	"github.com/mattjoyce/airsenal-launcher/internal/log"
	"github.com/mattjoyce/airsenal-launcher/internal/mode"
	"github.com/mattjoyce/airsenal-launcher/internal/runlog"
	"github.com/mattjoyce/airsenal-launcher/internal/runner"
	"github.com/mattjoyce/airsenal-launcher/internal/storage"
	"github.com/mattjoyce/airsenal-launcher/internal/web"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// dispatchLauncher is replaced in tests so dispatch never execs.
var dispatchLauncher = launch.Default

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

// runCLI returns the process exit code. With no arguments it is the container
// entrypoint and dispatches on RUN_MODE.
func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		return runDispatch(nil)
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "dispatch":
		return runDispatch(args)
	case "mode":
		return runMode(args)
	case "serve":
		return runServe(args)
	case "check", "doctor":
		return runCheck(args)
	case "runs":
		return runRuns(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func runDispatch(args []string) int {
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: airsenal-launcher [dispatch]")
		return 1
	}

	// The dispatcher reads nothing but the environment; a broken config file
	// must not keep the container from starting.
	log.Setup(os.Getenv("LOG_LEVEL"))

	d := dispatch.New(launch.DefaultTargets(), dispatchLauncher())
	code, err := d.Run(context.Background(), mode.FromEnv(nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "airsenal-launcher: %v\n", err)
	}
	return int(code)
}

type modeInfo struct {
	Mode         string `json:"mode"`
	RunMode      string `json:"run_mode"`
	RunModeSet   bool   `json:"run_mode_set"`
	Target       string `json:"target"`
	AdvisoryPort int    `json:"advisory_port"`
}

func runMode(args []string) int {
	fs := flag.NewFlagSet("mode", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	settings := mode.FromEnv(nil)
	target, err := launch.DefaultTargets().For(settings.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	info := modeInfo{
		Mode:         settings.Mode.String(),
		RunMode:      settings.Raw,
		RunModeSet:   settings.Set,
		Target:       target.String(),
		AdvisoryPort: settings.Port,
	}

	if *jsonOut {
		return printJSON(info)
	}

	raw := "(unset)"
	if settings.Set {
		raw = fmt.Sprintf("%q", settings.Raw)
	}
	fmt.Printf("mode:     %s\n", info.Mode)
	fmt.Printf("RUN_MODE: %s\n", raw)
	fmt.Printf("target:   %s\n", info.Target)
	fmt.Printf("port:     %d\n", info.AdvisoryPort)
	return 0
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (default $"+config.PathEnvVar+")")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(config.ResolvePath(*configPath, nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("airsenal-launcher web starting", "version", version, "listen", cfg.Web.Listen())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := storage.CheckLocal(storage.RunLock(cfg.Web.LockPath)); err != nil {
		logger.Error("run lock cannot be used", "path", cfg.Web.LockPath, "error", err)
		return 1
	}

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	store := runlog.New(db)
	if n, err := store.RecoverInterrupted(ctx); err != nil {
		logger.Error("failed to recover interrupted runs", "error", err)
		return 1
	} else if n > 0 {
		logger.Warn("marked interrupted runs as failed", "count", n)
	}

	cmdRunner := runner.New(runner.Options{
		WorkDir:        cfg.Web.WorkDir,
		Home:           cfg.Web.Home,
		Timeout:        cfg.Web.CommandTimeout,
		MaxOutputBytes: cfg.Web.MaxOutputBytes,
		LockPath:       cfg.Web.LockPath,
	})

	srv := web.New(web.Config{
		Listen:       cfg.Web.Listen(),
		APIKey:       cfg.Web.APIKey,
		TeamID:       cfg.Web.TeamID,
		HistoryLimit: cfg.Web.HistoryLimit,
	}, cmdRunner, store, log.WithComponent("web"))

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("web server failed", "error", err)
		return 1
	}

	logger.Info("airsenal-launcher web stopped")
	return 0
}

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (default $"+config.PathEnvVar+")")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(config.ResolvePath(*configPath, nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	settings := mode.FromEnv(nil)
	result := doctor.New(cfg, launch.DefaultTargets(), settings.Mode).Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to format JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(newTheme().report(doctor.FormatHuman(result), result.Valid))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runRuns(args []string) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (default $"+config.PathEnvVar+")")
	limit := fs.Int("limit", 0, "Number of runs to show (default web.history_limit)")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(config.ResolvePath(*configPath, nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *limit <= 0 {
		*limit = cfg.Web.HistoryLimit
	}

	ctx := context.Background()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	runs, err := runlog.New(db).Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		return 1
	}

	if *jsonOut {
		if runs == nil {
			runs = []*runlog.Run{}
		}
		return printJSON(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return 0
	}
	fmt.Print(newTheme().runTable(runs))
	return 0
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: airsenal-launcher version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		return printJSON(info)
	}

	fmt.Printf("airsenal-launcher %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func printUsage() {
	fmt.Print(`airsenal-launcher - container entrypoint for AIrsenal

Usage:
  airsenal-launcher                 Dispatch on RUN_MODE (same as "dispatch")
  airsenal-launcher <command> [flags]

Commands:
  dispatch   Replace this process with the collaborator RUN_MODE selects:
               RUN_MODE=pipeline  ->  airsenal_run_pipeline
               anything else      ->  python web_app.py
  mode       Show the mode the current environment selects [--json]
  serve      Run the built-in web control page [--config]
  check      Check the environment for both modes [--config] [--json]
  runs       List recent web-triggered runs [--config] [--limit N] [--json]
  version    Show version information [--json]
  help       Show this help

Environment:
  RUN_MODE                  "pipeline" selects the batch pipeline; exact match
  PORT                      web server port (default 10000)
  RENDER                    when set, bind 0.0.0.0 instead of 127.0.0.1
  AIRSENAL_HOME             airsenal data directory (default /tmp)
  FPL_TEAM_ID               default FPL team id
  LOG_LEVEL                 debug, info, warn, error
  AIRSENAL_LAUNCHER_CONFIG  optional YAML config file
`)
}
