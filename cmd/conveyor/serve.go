package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mood-agency/funny-sub004/internal/adapters"
	"github.com/mood-agency/funny-sub004/internal/bus"
	"github.com/mood-agency/funny-sub004/internal/config"
	"github.com/mood-agency/funny-sub004/internal/dlq"
	"github.com/mood-agency/funny-sub004/internal/signals"
	"github.com/mood-agency/funny-sub004/internal/version"
)

var (
	serveListen string
	serveSecret string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the integration director and delivery loops",
	Long: `Serve keeps the long-running side of conveyor alive: the director
cycles on its schedule and feeds ready branches to the integrator,
outbound webhooks deliver events with dead-letter retries, the signal
watcher picks up stop requests, and rebase flags are acted on as the
base branch moves.

With --listen, an HTTP listener accepts merge notifications on
POST /webhooks/integration-merged so merged branches are retired and
cleaned up as soon as the forge reports them.

SIGINT or SIGTERM drains queued deliveries before exiting.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Address for the inbound webhook listener (e.g. :8489); empty disables it")
	serveCmd.Flags().StringVar(&serveSecret, "webhook-secret", "", "Shared secret inbound notifications must present")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := CheckAgentCLI(); err != nil {
		return err
	}

	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := buildStack(repoPath, cfg, cfg.Director.ScheduleInterval())
	if err != nil {
		return err
	}
	defer st.close()

	// Mark runs a previous process left unfinished.
	if st.store != nil {
		if n, err := st.store.ReconcileInterrupted(); err != nil {
			fmt.Printf("Warning: reconciling interrupted runs: %v\n", err)
		} else if n > 0 {
			fmt.Printf("Marked %d interrupted run(s) from a previous process\n", n)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Outbound delivery with dead-letter retries. The queue redelivers
	// through the manager, so the two reference each other.
	var mgr *adapters.Manager
	var queue *dlq.Queue
	if len(cfg.Adapters.Webhooks) > 0 {
		hooks := make([]adapters.Adapter, 0, len(cfg.Adapters.Webhooks))
		for _, wc := range cfg.Adapters.Webhooks {
			hooks = append(hooks, adapters.NewWebhook(wc))
		}
		if cfg.Resilience.DLQ.Enabled {
			queue = dlq.New(dlq.Options{
				Path:          statePath(repoPath, cfg.Resilience.DLQ.Path),
				MaxRetries:    cfg.Resilience.DLQ.MaxRetries,
				BaseDelay:     cfg.Resilience.DLQ.BaseDelay(),
				BackoffFactor: cfg.Resilience.DLQ.BackoffFactor,
				RetryInterval: cfg.Adapters.RetryInterval(),
			}, func(ctx context.Context, adapter string, ev bus.Event) error {
				return mgr.Deliver(ctx, adapter, ev)
			})
		}
		mgr = adapters.NewManager(hooks, queue)
		mgr.Attach(st.events)
		mgr.Start()
		defer mgr.Stop()
		if queue != nil {
			queue.Start(ctx)
			defer queue.Stop()
		}
	}

	watcher, err := signals.New(filepath.Join(repoPath, ".conveyor", "signals"), st.orch.StopSignal)
	if err != nil {
		return fmt.Errorf("create signal watcher: %w", err)
	}
	watcher.Start()
	defer watcher.Stop()

	var srv *http.Server
	if serveListen != "" {
		srv = &http.Server{
			Addr:    serveListen,
			Handler: adapters.NewInbound(st.events, serveSecret).Routes(),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "inbound listener: %v\n", err)
			}
		}()
	}

	st.director.Start()

	// One stale sweep at startup; 'conveyor cleanup' covers on-demand runs.
	if cfg.Cleanup.StaleBranchDays > 0 {
		if deleted, err := st.clean.SweepStale(cfg.Branch.Main); err != nil {
			fmt.Printf("Warning: stale branch sweep: %v\n", err)
		} else if len(deleted) > 0 {
			fmt.Printf("Swept %d stale branch(es)\n", len(deleted))
		}
	}

	fmt.Printf("conveyor %s serving %s\n", version.Get(), repoPath)
	fmt.Printf("  Main branch: %s\n", cfg.Branch.Main)
	fmt.Printf("  Director interval: %s\n", cfg.Director.ScheduleInterval())
	if len(cfg.Adapters.Webhooks) > 0 {
		fmt.Printf("  Outbound webhooks: %d\n", len(cfg.Adapters.Webhooks))
	}
	if serveListen != "" {
		fmt.Printf("  Inbound listener: %s\n", serveListen)
	}
	fmt.Println("Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nReceived interrupt, draining...")

	if srv != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutCtx); err != nil {
			fmt.Fprintf(os.Stderr, "inbound listener shutdown: %v\n", err)
		}
		shutCancel()
	}
	return nil
}
