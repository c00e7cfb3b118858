package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mcowger/plexus/internal/accounting"
	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/cooldown"
	"github.com/mcowger/plexus/internal/dispatch"
	"github.com/mcowger/plexus/internal/obs"
	"github.com/mcowger/plexus/internal/provider"
	"github.com/mcowger/plexus/internal/router"
	"github.com/mcowger/plexus/internal/server"
	"github.com/mcowger/plexus/internal/store"
	"github.com/mcowger/plexus/internal/trace"
)

// Set by the compiler via -ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

var (
	configPath string
	dataDir    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "plexus",
	Short: "Plexus - multi-dialect LLM gateway",
	Long: `Plexus is a reverse proxy that speaks the OpenAI, Anthropic, and Gemini
wire protocols on the front and routes each request to configured upstream
providers, with failover, cooldowns, usage accounting, and debug tracing.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "configuration file path")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "data", "directory for the database and log files")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Plexus\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Git Commit: %s\n", gitCommit)
			fmt.Printf("Build Time: %s\n", buildTime)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	})
}

func runServe() error {
	snap, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := logLevel
	if level == "" {
		level = snap.Config.LogLevel
	}
	ring := obs.NewRingHook(512)
	if err := obs.Setup(level, dataDir, ring); err != nil {
		return err
	}

	st, err := store.Open(dataDir)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.SaveConfigSnapshot("startup", snap.Raw); err != nil {
		logrus.WithError(err).Warn("startup config snapshot not persisted")
	}

	holder := config.NewHolder(snap)

	cooldowns := cooldown.NewManager(snap.Config.Resilience.Cooldown.ToManagerConfig())
	cooldowns.Start()
	defer cooldowns.Stop()

	tracer := trace.New(snap.Config.Trace, st)
	tracer.Start()
	defer tracer.Stop()

	acct := accounting.New(st, snap.Config.Pricing, snap.Config.Energy)
	acct.Start()
	defer acct.Stop()

	rtr := router.New(acct)
	dispatcher := dispatch.New(provider.DefaultRegistry(), cooldowns, tracer)

	watcher, err := config.NewWatcher(configPath, holder, func(next *config.Snapshot) {
		acct.Reconfigure(next.Config.Pricing, next.Config.Energy)
		if err := st.SaveConfigSnapshot("file-reload", next.Raw); err != nil {
			logrus.WithError(err).Warn("reload config snapshot not persisted")
		}
	})
	if err != nil {
		logrus.WithError(err).Warn("config hot reload unavailable")
	} else {
		defer watcher.Close()
	}

	srv := server.New(server.Deps{
		Holder:     holder,
		Router:     rtr,
		Dispatcher: dispatcher,
		Cooldowns:  cooldowns,
		Tracer:     tracer,
		Accounting: acct,
		Store:      st,
		Ring:       ring,
		ConfigPath: configPath,
	}, server.WithVersion(version))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		logrus.WithField("signal", s.String()).Info("shutting down")
	}

	grace := time.Duration(holder.Get().Config.Resilience.Retry.DrainGraceS) * time.Second
	if grace <= 0 {
		grace = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return srv.Shutdown(ctx)
}
