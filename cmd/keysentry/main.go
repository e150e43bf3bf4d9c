// keysentry - Continuous behavioral authentication from keystroke dynamics
//
//	keysentry register   Build your baseline typing profile
//	keysentry verify     One-shot identity verification
//	keysentry monitor    Continuous session monitoring
//	keysentry status     Show profile, device, and audit health
//	keysentry logs       Show the audit trail
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"keysentry/internal/audit"
	"keysentry/internal/capture"
	"keysentry/internal/config"
	"keysentry/internal/logging"
	"keysentry/internal/notify"
	"keysentry/internal/profile"
	"keysentry/internal/risk"
	"keysentry/internal/trust"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "register":
		cmdRegister()
	case "verify":
		cmdVerify()
	case "monitor":
		cmdMonitor()
	case "status":
		cmdStatus()
	case "logs":
		cmdLogs()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`keysentry - Continuous Behavioral Authentication

USAGE:
    keysentry <command> [options]

COMMANDS:
    register            Build your baseline typing profile
    verify              One-shot identity verification against the baseline
    monitor             Continuous monitoring with periodic re-verification
    status              Show profile, input device, and audit trail health
    logs                Show recent audit events
    help                Show this help message

WORKFLOW:
    1. keysentry register     # Type the registration phrase once
    2. keysentry verify       # Check that verification passes
    3. keysentry monitor      # Start a monitored session (Ctrl+C to end)

Type the prompted phrase, then ':' followed by 'q' to finish each capture.

PRIVACY NOTE:
    Capture is active only while you type a prompted phrase. Nothing you
    type outside a prompt is observed or recorded.

OPTIONS (per command):
    -config <path>      Config file (default: ` + config.DefaultPath() + `)
    -replay <path>      Replay a recorded event script instead of the keyboard
    -device <path>      Input device path, or "auto"`)
}

// app bundles everything a command needs after setup.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	trail   *audit.Log
	engine  *risk.Engine
	service *trust.Service
}

func (a *app) close() {
	if a.trail != nil {
		a.trail.Close()
	}
	if a.logger != nil {
		a.logger.Close()
	}
}

// commandFlags registers the flags shared by every command.
func commandFlags(fs *flag.FlagSet) (configPath, replayPath, device *string) {
	configPath = fs.String("config", config.DefaultPath(), "config file path")
	replayPath = fs.String("replay", "", "replay a recorded event script")
	device = fs.String("device", "", "input device path, or \"auto\"")
	return
}

// setup loads config and wires the service. fatal on any failure.
func setup(configPath, replayPath, device string) *app {
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	if device != "" {
		cfg.Capture.Device = device
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fatal("init logging: %v", err)
	}

	var source capture.Source
	if replayPath != "" {
		f, err := os.Open(replayPath)
		if err != nil {
			fatal("open replay script: %v", err)
		}
		script, err := capture.ReadScript(f)
		f.Close()
		if err != nil {
			fatal("read replay script: %v", err)
		}
		source = capture.NewScriptSource(script)
	} else {
		source = capture.NewPlatformSource(cfg.Capture.Device)
		if ok, reason := source.Available(); !ok {
			fatal("keyboard capture unavailable: %s\n(try -replay with a recorded script)", reason)
		}
	}

	trail, err := audit.Open(cfg.Storage.AuditPath)
	if err != nil {
		fatal("open audit trail: %v", err)
	}

	engine, err := risk.NewEngine(cfg.Risk)
	if err != nil {
		fatal("init risk engine: %v", err)
	}

	var notifier trust.Notifier
	if cfg.Notify.Enabled {
		n, err := notify.New()
		if err != nil {
			logger.Warn("desktop notifications unavailable", "error", err)
		} else if ok, _ := n.Available(); !ok {
			logger.Warn("no notification service on session bus")
			n.Close()
		} else {
			notifier = n
		}
	}

	store := profile.NewStore(cfg.Storage.ProfilePath)
	service := trust.NewService(cfg, source, store, engine, trail, notifier, logger.Logger)
	service.OnPrompt = printPrompt
	service.OnResult = printResult

	return &app{cfg: cfg, logger: logger, trail: trail, engine: engine, service: service}
}

func cmdRegister() {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	configPath, replayPath, device := commandFlags(fs)
	fs.Parse(os.Args[2:])

	a := setup(*configPath, *replayPath, *device)
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	fmt.Println("=== Baseline Registration ===")
	p, err := a.service.Register(ctx)
	if err != nil {
		if errors.Is(err, profile.ErrInsufficientData) {
			fatal("no keystroke data captured; try again and type the full phrase")
		}
		fatal("registration failed: %v", err)
	}

	fmt.Println("\nBaseline profile saved.")
	fmt.Printf("  avg flight time : %.4fs (std %.4f)\n", p.FlightAvg, p.FlightStd)
	fmt.Printf("  avg dwell time  : %.4fs (std %.4f)\n", p.DwellAvg, p.DwellStd)
	fmt.Printf("  bigrams learned : %d\n", len(p.BigramAvg))
	fmt.Printf("  rhythm vector   : %d intervals\n", len(p.RhythmVector))
	fmt.Printf("  risk threshold  : %.4f\n", a.engine.DynamicThreshold(p.FlightStd))
}

func cmdVerify() {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath, replayPath, device := commandFlags(fs)
	fs.Parse(os.Args[2:])

	a := setup(*configPath, *replayPath, *device)
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	fmt.Println("=== Identity Verification ===")
	assessment, err := a.service.Verify(ctx)
	if err != nil {
		if errors.Is(err, profile.ErrProfileNotFound) {
			fatal("no baseline profile; run 'keysentry register' first")
		}
		if errors.Is(err, trust.ErrNoInputCaptured) {
			fatal("no keystroke data captured; try again")
		}
		fatal("verification failed: %v", err)
	}

	if !assessment.Trusted() {
		os.Exit(1)
	}
}

func cmdMonitor() {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	configPath, replayPath, device := commandFlags(fs)
	fs.Parse(os.Args[2:])

	a := setup(*configPath, *replayPath, *device)
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	fmt.Println("=== Continuous Monitoring ===")
	fmt.Printf("Re-verification every %s. Press Ctrl+C to end the session.\n\n",
		a.cfg.Monitor.Interval())

	result, err := a.service.Monitor(ctx)
	if err != nil {
		if errors.Is(err, profile.ErrProfileNotFound) {
			fatal("no baseline profile; run 'keysentry register' first")
		}
		if errors.Is(err, trust.ErrNoInputCaptured) {
			fatal("no keystroke data captured at login; monitoring not started")
		}
		fatal("monitoring failed: %v", err)
	}

	switch result.Outcome {
	case trust.OutcomeNeverStarted:
		fmt.Println("\nInitial verification failed. Monitoring was not started.")
		os.Exit(1)
	case trust.OutcomeStopped:
		fmt.Printf("\nSession ended normally after %d re-check(s).\n", result.Rechecks)
	case trust.OutcomeLocked:
		fmt.Printf("\nSESSION LOCKED after %d re-check(s). Run 'keysentry register' to restore access.\n",
			result.Rechecks)
		os.Exit(1)
	}
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath, replayPath, device := commandFlags(fs)
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	if *device != "" {
		cfg.Capture.Device = *device
	}

	fmt.Println("keysentry status")
	fmt.Println()

	store := profile.NewStore(cfg.Storage.ProfilePath)
	if p, err := store.Load(); err == nil {
		fmt.Printf("  Baseline profile : %s\n", store.Path())
		fmt.Printf("    flight %.4fs±%.4f, dwell %.4fs±%.4f, %d bigrams, %d-interval rhythm\n",
			p.FlightAvg, p.FlightStd, p.DwellAvg, p.DwellStd, len(p.BigramAvg), len(p.RhythmVector))
		if engine, err := risk.NewEngine(cfg.Risk); err == nil {
			fmt.Printf("    risk threshold %.4f\n", engine.DynamicThreshold(p.FlightStd))
		}
	} else if errors.Is(err, profile.ErrProfileNotFound) {
		fmt.Println("  Baseline profile : not registered")
	} else {
		fmt.Printf("  Baseline profile : UNREADABLE (%v)\n", err)
	}

	if *replayPath != "" {
		fmt.Printf("  Input source     : replay script %s\n", *replayPath)
	} else {
		source := capture.NewPlatformSource(cfg.Capture.Device)
		if ok, reason := source.Available(); ok {
			fmt.Printf("  Input source     : %s\n", reason)
		} else {
			fmt.Printf("  Input source     : unavailable (%s)\n", reason)
		}
	}

	if n, err := notify.New(); err == nil {
		if ok, reason := n.Available(); ok {
			fmt.Printf("  Notifications    : %s\n", reason)
		} else {
			fmt.Printf("  Notifications    : %s\n", reason)
		}
		n.Close()
	} else {
		fmt.Println("  Notifications    : no session bus")
	}

	trail, err := audit.Open(cfg.Storage.AuditPath)
	if err != nil {
		if errors.Is(err, audit.ErrIntegrityCompromised) {
			fmt.Println("  Audit trail      : INTEGRITY COMPROMISED")
			os.Exit(1)
		}
		fmt.Printf("  Audit trail      : unavailable (%v)\n", err)
		return
	}
	defer trail.Close()
	count, _ := trail.Count()
	fmt.Printf("  Audit trail      : %d events, integrity verified\n", count)

	if events, err := trail.Recent(50); err == nil {
		for _, e := range events {
			if e.RiskScore == nil || e.Threshold == nil {
				continue
			}
			fmt.Printf("  Last assessment  : %s %s (risk %.4f / threshold %.4f) at %s\n",
				e.Status, e.Type, *e.RiskScore, *e.Threshold,
				e.Time().Format("2006-01-02 15:04:05"))
			break
		}
	}
}

func cmdLogs() {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	limit := fs.Int("n", 20, "number of events to show")
	verifyChain := fs.Bool("verify", false, "re-verify the full audit chain")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config: %v", err)
	}

	trail, err := audit.Open(cfg.Storage.AuditPath)
	if err != nil {
		if errors.Is(err, audit.ErrIntegrityCompromised) {
			fatal("audit trail integrity compromised: %v", err)
		}
		fatal("open audit trail: %v", err)
	}
	defer trail.Close()

	if *verifyChain {
		if err := trail.Verify(); err != nil {
			fatal("audit chain verification FAILED: %v", err)
		}
		fmt.Println("Audit chain verified.")
	}

	events, err := trail.Recent(*limit)
	if err != nil {
		fatal("read audit trail: %v", err)
	}
	if len(events) == 0 {
		fmt.Println("No audit events recorded.")
		return
	}

	for _, e := range events {
		line := fmt.Sprintf("%s  %-13s %-8s %s",
			e.Time().Format("2006-01-02 15:04:05"), e.Type, e.Result, e.Detail)
		if e.RiskScore != nil && e.Threshold != nil {
			line += fmt.Sprintf("  [risk %.4f / threshold %.4f]", *e.RiskScore, *e.Threshold)
		}
		fmt.Println(line)
	}
}

// signalContext cancels on SIGINT or SIGTERM; during monitoring that is
// the normal way to end a session.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printPrompt(op trust.Operation, phrase string) {
	fmt.Printf("\n[%s] Type the phrase below, then ':' followed by 'q':\n\n    %s\n\n", op, phrase)
}

func printResult(op trust.Operation, a *risk.Assessment) {
	fmt.Printf("\n[%s] %s\n", op, a.Status)
	fmt.Printf("  flight deviation : %.4f\n", a.FlightDev)
	fmt.Printf("  dwell deviation  : %.4f\n", a.DwellDev)
	fmt.Printf("  bigram deviation : %.4f\n", a.BigramDev)
	fmt.Printf("  rhythm distance  : %.4f\n", a.VectorDist)
	fmt.Printf("  cosine similarity: %.4f\n", a.CosineSim)
	fmt.Printf("  risk score       : %.4f (threshold %.4f)\n", a.RiskScore, a.Threshold)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "keysentry: "+format+"\n", args...)
	os.Exit(1)
}
