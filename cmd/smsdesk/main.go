package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matheus3301/smsdesk/internal/config"
	"github.com/matheus3301/smsdesk/internal/logging"
	"github.com/matheus3301/smsdesk/internal/profile"
	"github.com/matheus3301/smsdesk/internal/tui"
	"github.com/matheus3301/smsdesk/internal/tui/client"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", profile.ConfigPath(), "path to config.toml")
	noStart := flag.Bool("no-autostart", false, "do not start smsdeskd when it is not running")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := profile.EnsureDir(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// The terminal belongs to tview, so the console only logs to its file.
	level := zapcore.InfoLevel
	if *debug {
		level = zapcore.DebugLevel
	}
	logger, err := logging.NewFileOnly(profile.ConsoleLogPath(profileName), profileName, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	c, err := client.New(cfg, profileName, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	// Probe daemon health; auto-start if needed.
	if !probeDaemon(c) {
		if *noStart {
			fmt.Fprintf(os.Stderr, "daemon not running for profile %q\n", profileName)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "daemon not running for profile %q, starting...\n", profileName)
		if err := startDaemon(profileName, *configFlag); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.WaitReady(ctx, 300*time.Millisecond)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "daemon did not become ready: %v\n", err)
			os.Exit(1)
		}
	}

	app := tui.NewApp(c, cfg, profileName, logger)
	if err := app.Run(); err != nil {
		logger.Error("console exited", zap.Error(err))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func probeDaemon(c *client.Client) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Ping(ctx)
	return err == nil
}

func startDaemon(profileName, configPath string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	daemonBin := filepath.Join(filepath.Dir(executable), "smsdeskd")

	if _, err := os.Stat(daemonBin); err != nil {
		daemonBin = "smsdeskd"
	}

	cmd := exec.Command(daemonBin, "--profile", profileName, "--config", configPath)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}
