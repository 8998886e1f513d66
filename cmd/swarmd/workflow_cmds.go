package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/h1v3-io/swarm/internal/api"
	"github.com/h1v3-io/swarm/internal/scheduler"
	"github.com/h1v3-io/swarm/internal/ticket"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

// defaultSchedule is used by the daemon when workflow.schedule is empty.
const defaultSchedule = "@every 1m"

var (
	maxCycles  int
	cycleDelay time.Duration
	schedule   string
	noAPI      bool
	inbox      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run workflow cycles until no ticket is left or the cycle limit is hit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, err := openApp(ctx, cfg, logger.Sugar())
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		n := maxCycles
		if !cmd.Flags().Changed("max-cycles") {
			n = cfg.Workflow.MaxCycles
		}
		if err := a.orch.Run(ctx, n); err != nil && ctx.Err() == nil {
			return err
		}
		sum, err := a.orch.Summary()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), sum)
	},
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single workflow cycle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, err := openApp(ctx, cfg, logger.Sugar())
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		resp, err := a.orch.RunCycle(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

var processCmd = &cobra.Command{
	Use:   "process <ticket-id>",
	Short: "Drive one ticket from the role its status calls for",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, err := openApp(ctx, cfg, logger.Sugar())
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		resp, err := a.orch.ProcessTicket(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run cycles on a cron schedule and serve the HTTP API",
	Long: `Runs a workflow cycle on every tick of the schedule (workflow.schedule,
default "@every 1m"). A tick that arrives while a cycle is still running is
skipped. The HTTP API listens on api.listen unless --no-api is given.
With --inbox (or workflow.inbox), YAML ticket files dropped into that
directory are filed as new tickets.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		log := logger.Sugar()
		a, err := openApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		spec := schedule
		if spec == "" {
			spec = cfg.Workflow.Schedule
		}
		if spec == "" {
			spec = defaultSchedule
		}
		sched := scheduler.New(log.Named("scheduler"))
		err = sched.AddJob("cycle", spec, func(ctx context.Context) error {
			resp, err := a.orch.RunCycle(ctx)
			if err != nil {
				return err
			}
			logCycle(log, resp)
			return nil
		})
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return ignoreCanceled(sched.Start(gctx)) })
		if !noAPI {
			srv := api.NewServer(a.orch, a.orch.MCP(), api.Config{Listen: cfg.API.Listen, Token: cfg.API.Token}, log.Named("api"), logs)
			g.Go(func() error { return srv.Start(gctx) })
		}
		dir := inbox
		if dir == "" {
			dir = cfg.Workflow.Inbox
		}
		if dir != "" {
			w := ticket.NewWatcher(dir, a.store, log.Named("inbox"))
			g.Go(func() error { return ignoreCanceled(w.Run(gctx)) })
		}
		log.Infow("swarmd daemon started", "schedule", spec, "api", !noAPI, "inbox", dir)
		err = g.Wait()
		log.Infow("swarmd daemon stopped")
		return err
	},
}

func init() {
	runCmd.Flags().IntVarP(&maxCycles, "max-cycles", "n", 0, "stop after this many cycles, 0 for no limit (default workflow.max_cycles)")
	runCmd.Flags().DurationVar(&cycleDelay, "delay", 0, "pause between cycles")
	daemonCmd.Flags().StringVar(&schedule, "schedule", "", "cron spec overriding workflow.schedule")
	daemonCmd.Flags().BoolVar(&noAPI, "no-api", false, "do not serve the HTTP API")
	daemonCmd.Flags().StringVar(&inbox, "inbox", "", "directory to file YAML tickets from (default workflow.inbox)")
}

// logCycle reports the outcome of a scheduled cycle.
func logCycle(log *zap.SugaredLogger, resp *protocol.RoleResponse) {
	if resp == nil {
		log.Warnw("scheduled cycle produced no response")
		return
	}
	log.Infow("scheduled cycle finished", "action", resp.Action, "ticket", resp.TicketID, "success", resp.Success)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func ignoreCanceled(err error) error {
	if err == context.Canceled {
		return nil
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
