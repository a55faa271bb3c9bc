// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Command pyrused runs the journal-driven filter/action pipeline of
// SPEC_FULL.md: compile a configuration document into a step graph,
// then dispatch systemd journal entries through it until the process
// is signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	systemdjournal "github.com/coreos/go-systemd/v22/journal"
	"github.com/google/uuid"
	"github.com/peterbourgon/ff/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pyruse/pyrused/internal/ban"
	"github.com/pyruse/pyrused/internal/config"
	"github.com/pyruse/pyrused/internal/counter"
	"github.com/pyruse/pyrused/internal/dispatch"
	"github.com/pyruse/pyrused/internal/dnat"
	"github.com/pyruse/pyrused/internal/journalsrc"
	"github.com/pyruse/pyrused/internal/logger"
	"github.com/pyruse/pyrused/internal/mailer"
	"github.com/pyruse/pyrused/internal/metrics"
	"github.com/pyruse/pyrused/internal/registry"
	"github.com/pyruse/pyrused/internal/report"
	"github.com/pyruse/pyrused/internal/workflow"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("pyrused", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "/etc/pyruse/pyruse.json", "path to the pyruse configuration document")
		debug      = fs.String("debug", "", "listen address for the /metrics endpoint, e.g. localhost:6060")
		boot       = fs.String("boot", "", "boot the named action module's persistent state (nftBan or ipsetBan) and exit")
		checkCfg   = fs.Bool("check-config", false, "load and compile the configuration document, then exit")
	)
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("PYRUSED")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	doc, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pyrused: loading config:", err)
		return 2
	}

	zlog, err := newZapLogger(doc.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pyrused: building logger:", err)
		return 2
	}
	defer zlog.Sync()
	logf := logger.FromZap(zlog.Sugar())

	coll := metrics.New()
	if err := coll.Register(prometheus.DefaultRegisterer); err != nil {
		logf("pyrused: registering metrics: %v", err)
	}

	reg, err := buildRegistry(doc, logf, coll)
	if err != nil {
		logf("pyrused: building pipeline subsystems: %v", err)
		return 2
	}

	if *boot != "" {
		return runBoot(doc, reg, logf, *boot)
	}

	wfDoc := doc.WorkflowDocument()
	wf, err := workflow.Compile(wfDoc, reg.Build)
	if err != nil {
		logf("pyrused: compiling workflow: %v", err)
		return 2
	}
	graphID := uuid.New()
	logf("pyrused: compiled workflow graph %s (%d top-level labels)", graphID, len(wfDoc.Labels))

	if *checkCfg {
		fmt.Println("configuration OK")
		return 0
	}

	if *debug != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *debug, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logf("pyrused: debug listener: %v", err)
			}
		}()
	}

	src, err := journalsrc.Open(doc.EightBitEncoding)
	if err != nil {
		logf("pyrused: opening journal: %v", err)
		return 2
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := &dispatch.Dispatcher{Source: src, Root: wf.Root, Logf: logf, Metrics: coll}

	if ok, _ := daemon.SdNotify(false, daemon.SdNotifyReady); !ok {
		logf("pyrused: sd_notify READY not delivered (not running under systemd?)")
	}

	if err := d.Run(ctx); err != nil {
		logf("pyrused: dispatcher stopped: %v", err)
		return 1
	}
	return 0
}

// buildRegistry constructs every stateful subsystem a compiled step
// graph can reference, wiring each into the registry.Registry under
// its §6 config keys.
func buildRegistry(doc *config.Document, logf logger.Logf, coll *metrics.Collectors) (*registry.Registry, error) {
	now := time.Now

	nftDriver := ban.NewNFTDriver("filter")
	ipsetDriver := ban.NewIPSetDriver(firstOr(doc.IpsetBan.Ipset, "/usr/sbin/ipset"))

	m := mailer.New(mailer.Config{
		Subject:  doc.Email.Subject,
		From:     doc.Email.From,
		To:       doc.Email.To,
		Sendmail: doc.Email.Sendmail,
		Now:      now,
	})

	rep := report.New(filepath.Join(doc.Storage, "action_dailyReport.py.journal"), m, logf, now).WithMetrics(coll)

	logSink := func(priority int, msg string) {
		if err := systemdjournal.Send(msg, systemdjournal.Priority(priority), nil); err != nil {
			logf("pyrused: journal send failed, falling back to stderr: %v (%s)", err, msg)
		}
	}

	r := &registry.Registry{
		Counters:         counter.NewRegistry(now),
		Dnat:             dnat.NewCache(),
		NftDriver:        nftDriver,
		NftStoragePath:   filepath.Join(doc.Storage, "nft.json"),
		IpsetDriver:      ipsetDriver,
		IpsetStoragePath: filepath.Join(doc.Storage, "ipset.json"),
		BanMetrics:       coll,
		Report:           rep,
		Mailer:           m,
		LogSink:          logSink,
		Logf:             logf,
	}
	return r, nil
}

func firstOr(argv []string, fallback string) string {
	if len(argv) > 0 {
		return argv[0]
	}
	return fallback
}

// runBoot implements the §6 "Boot CLI" contract: restore one driver's
// persistent ban state after a process or host restart.
func runBoot(doc *config.Document, reg *registry.Registry, logf logger.Logf, moduleName string) int {
	var driver ban.Driver
	var fileName string
	switch moduleName {
	case "nftBan":
		driver, fileName = reg.NftDriver, "nft.json"
	case "ipsetBan":
		driver, fileName = reg.IpsetDriver, "ipset.json"
	default:
		logf("pyrused: --boot: unknown module %q (want nftBan or ipsetBan)", moduleName)
		return 2
	}

	v4Set, v6Set := findBanSetNames(doc, moduleName)
	jump, err := ban.NewJumpRuleBinding("INPUT")
	if err != nil {
		logf("pyrused: --boot: iptables jump-rule binding unavailable: %v", err)
	}
	store, err := ban.NewStore(ban.Config{
		Path:     filepath.Join(doc.Storage, fileName),
		Driver:   driver,
		IPv4Set:  v4Set,
		IPv6Set:  v6Set,
		Field:    "IP",
		Logf:     logf,
		JumpRule: jump,
	})
	if err != nil {
		logf("pyrused: --boot: %v", err)
		return 2
	}
	if err := store.Boot(); err != nil {
		logf("pyrused: --boot %s: %v", moduleName, err)
		return 1
	}
	logf("pyrused: --boot %s: restored state from %s", moduleName, fileName)
	return 0
}

// findBanSetNames scans doc's actions for the first step naming
// moduleName, returning the IPv4/IPv6 set names its args configure.
// Boot itself only needs a non-empty pair to satisfy ban.NewStore's
// validation and to ensure the jump rule for at least one configured
// set; the state file it restores from is shared process-wide.
func findBanSetNames(doc *config.Document, moduleName string) (v4, v6 string) {
	v4Key, v6Key := "nftSetIPv4", "nftSetIPv6"
	if moduleName == "ipsetBan" {
		v4Key, v6Key = "ipSetIPv4", "ipSetIPv6"
	}
	for _, steps := range doc.Actions {
		for _, s := range steps {
			if s.Action != moduleName {
				continue
			}
			v4, _ = s.Args[v4Key].(string)
			v6, _ = s.Args[v6Key].(string)
			if v4 != "" && v6 != "" {
				return v4, v6
			}
		}
	}
	return "ban-v4", "ban-v6"
}

func newZapLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}
