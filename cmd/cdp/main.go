package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tmc/misc/cdp-gateway/internal/audit"
	"github.com/tmc/misc/cdp-gateway/internal/chromeprofiles"
	"github.com/tmc/misc/cdp-gateway/internal/hostbridge"
	"github.com/tmc/misc/cdp-gateway/internal/limits"
	"github.com/tmc/misc/cdp-gateway/internal/portforward"
	"github.com/tmc/misc/cdp-gateway/internal/portforwardchild"
	"github.com/tmc/misc/cdp-gateway/internal/relaychild"
	"github.com/tmc/misc/cdp-gateway/internal/session"
	"github.com/tmc/misc/cdp-gateway/internal/supervisor"
	"github.com/tmc/misc/cdp-gateway/internal/toolsurface"
	"github.com/tmc/misc/cdp-gateway/internal/transport"
)

func main() {
	// The port-forwarder and subprocess-relay children are this same binary
	// re-executed with a hidden subcommand, dispatched before flag parsing
	// so their argv never collides with gateway flags.
	if len(os.Args) >= 3 && os.Args[1] == portforward.ChildSubcommand {
		port, err := strconv.Atoi(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "cdp: %s: bad port %q\n", portforward.ChildSubcommand, os.Args[2])
			os.Exit(2)
		}
		if err := portforwardchild.Run(port, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "cdp: port forwarder: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if len(os.Args) >= 3 && os.Args[1] == transport.RelayChildSubcommand {
		if err := relaychild.Main(context.Background(), os.Args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "cdp: relay: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var (
		mode          string
		profile       string
		headless      bool
		portMin       int
		portMax       int
		sessionID     string
		verbose       bool
		maxConsole    int
		auditPath     string
		chromePath    string
		cookieDomains string
	)
	flag.StringVar(&mode, "mode", "isolated", "session pool mode: isolated or shared")
	flag.StringVar(&profile, "profile", "default", "chrome profile name, shared mode only")
	flag.BoolVar(&headless, "headless", false, "launch chrome with --headless=new")
	flag.IntVar(&portMin, "port-min", 9222, "debug port range start (per-session browsers, or the shared browser)")
	flag.IntVar(&portMax, "port-max", 9322, "debug port range end, exclusive")
	flag.StringVar(&sessionID, "session-id", "default", "default session id")
	flag.BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	flag.IntVar(&maxConsole, "max-console", 500, "console message buffer size per session, 0 disables trimming")
	flag.StringVar(&auditPath, "audit-db", "", "path to sqlite session-lifecycle audit log, empty disables it")
	flag.StringVar(&chromePath, "chrome-path", "", "browser executable, skips install-location probing")
	flag.StringVar(&cookieDomains, "cookie-domains", "", "comma-separated domains whose cookies are copied in shared mode, empty copies all")
	flag.Parse()

	log, err := newLogger(verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cdp: building logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	poolMode, err := parsePoolMode(mode)
	if err != nil {
		log.Fatal("invalid mode", zap.Error(err))
	}

	if err := limits.SetSystemLimits(2048, 512, 4096); err != nil {
		log.Warn("could not raise process rlimits, continuing with inherited limits", zap.Error(err))
	}

	bridge := hostbridge.New(log)
	if bridge.InGuest() {
		log.Info("host bridge active: debugger HTTP calls relayed through host")
	}

	profiles, err := chromeprofiles.NewProfileManager(chromeprofiles.WithVerbose(verbose), chromeprofiles.WithLogger(log))
	if err != nil {
		log.Fatal("building profile manager", zap.Error(err))
	}

	var auditLog *audit.Log
	if auditPath != "" {
		auditLog, err = audit.Open(auditPath, log)
		if err != nil {
			log.Fatal("opening audit database", zap.Error(err))
		}
		defer auditLog.Close()
	}

	var supOpts []supervisor.Option
	if chromePath != "" {
		supOpts = append(supOpts, supervisor.WithExecutablePath(chromePath))
	}
	if cookieDomains != "" {
		supOpts = append(supOpts, supervisor.WithCookieDomains(strings.Split(cookieDomains, ",")))
	}
	sup := supervisor.New(log, profiles, portMin, portMax, bridge, supOpts...)
	pool := session.New(log, sup, session.Config{
		Mode:        poolMode,
		ProfileName: profile,
		Headless:    headless,
		PortMin:     portMin,
		PortMax:     portMax,
		MaxConsole:  maxConsole,
		Audit:       auditLog,
	})
	defer pool.CleanupAll(context.Background())

	registry := toolsurface.New(pool, log)

	repl := &REPL{
		registry:  registry,
		profiles:  profiles,
		log:       log,
		sessionID: sessionID,
	}
	repl.Run(os.Stdin, os.Stdout)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func parsePoolMode(mode string) (session.PoolMode, error) {
	switch mode {
	case "isolated":
		return session.Isolated, nil
	case "shared":
		return session.SharedProfile, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (want isolated or shared)", mode)
	}
}
