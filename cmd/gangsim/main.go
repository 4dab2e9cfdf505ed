// Command gangsim runs the gang territory simulation: an HTTP server that
// advances turns on request, plus offline subcommands for managing a save.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/allannapier/gangsofclaude-sub000/internal/api"
	"github.com/allannapier/gangsofclaude-sub000/internal/config"
	"github.com/allannapier/gangsofclaude-sub000/internal/engine"
	"github.com/allannapier/gangsofclaude-sub000/internal/observer"
	"github.com/allannapier/gangsofclaude-sub000/internal/oracle"
	"github.com/allannapier/gangsofclaude-sub000/internal/persistence"
	"github.com/allannapier/gangsofclaude-sub000/internal/social"
	"github.com/allannapier/gangsofclaude-sub000/internal/world"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:           "gangsim",
		Short:         "Turn-based gang territory simulation driven by an LLM oracle",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
	}
	defaultConfig := os.Getenv("GANGSIM_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "configs/gangsim.yaml"
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "path to the YAML config (env GANGSIM_CONFIG)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	root.AddCommand(serveCmd(), newCmd(), turnCmd(), statusCmd(), archiveCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setupLogging uses text output on a terminal and JSON otherwise.
func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// runtime is everything a running game needs.
type runtime struct {
	cfg     config.Config
	save    *persistence.SaveFile
	journal *persistence.Journal
	archive *persistence.Archive
	hub     *observer.Hub
	ctl     *oracle.Controller
	runner  *engine.Runner
}

// open loads config and any existing save and wires the runner's commit
// hooks. The caller must Close it.
func open() (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	rt := &runtime{
		cfg:     cfg,
		save:    persistence.NewSaveFile(cfg.Storage.SavePath()),
		archive: persistence.NewArchive(cfg.Storage.ArchiveDir()),
		hub:     observer.NewHub(64),
	}

	state, err := rt.save.Load()
	switch {
	case errors.Is(err, persistence.ErrNoSave):
		slog.Info("no saved game found", "path", rt.save.Path())
	case err != nil:
		return nil, fmt.Errorf("load save: %w", err)
	default:
		slog.Info("saved game loaded", "turn", state.Turn, "phase", state.Phase, "seed", state.Seed)
	}

	rt.journal, err = persistence.OpenJournal(cfg.Storage.JournalPath())
	if err != nil {
		return nil, err
	}

	var o oracle.Oracle = oracle.Offline{}
	if c := oracle.NewClient(cfg.Oracle); c != nil {
		o = c
		slog.Info("oracle client enabled", "model", cfg.Oracle.Model)
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set, every family will wait")
	}
	rt.ctl = oracle.NewController(o, cfg.Retry, cfg.Oracle.Timeout)
	rt.ctl.OnStatus = rt.hub.OracleStatus

	orch := &engine.Orchestrator{Requests: rt.ctl, OnStatus: rt.hub.FamilyStatus}
	rt.runner = engine.NewRunner(cfg.Rules, orch, rt.save, state)
	rt.runner.OnCommit(rt.journal.Hook())
	rt.runner.OnCommit(rt.archive.Hook())
	rt.runner.OnCommit(rt.hub.CommitHook())
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.journal != nil {
		rt.journal.Close()
	}
}

// start runs the runner loop until the returned stop is called.
func (rt *runtime) start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.runner.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and observer streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open()
			if err != nil {
				return err
			}
			defer rt.Close()
			if port != 0 {
				rt.cfg.Server.Port = port
			}
			if rt.cfg.Server.AdminKey == "" {
				slog.Warn("GANGSIM_ADMIN_KEY not set, POST endpoints are open")
			}

			stopRunner := rt.start(context.Background())
			defer stopRunner()

			srv := api.New(rt.runner, rt.hub, rt.journal, rt.cfg)
			srv.Start()
			fmt.Printf("API: http://localhost:%d/api/v1/status\n", rt.cfg.Server.Port)

			<-cmd.Context().Done()
			slog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("http shutdown", "err", err)
			}
			if st := rt.runner.Status(); st.Unsaved {
				slog.Error("last committed state was not checkpointed", "turn", st.Turn, "err", st.LastError)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override the configured port")
	return cmd
}

func newCmd() *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a new game, replacing any saved one",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open()
			if err != nil {
				return err
			}
			defer rt.Close()
			stop := rt.start(cmd.Context())
			defer stop()

			state, err := rt.runner.NewGame(cmd.Context(), seed)
			if err != nil {
				return err
			}
			fmt.Printf("New game started (seed %d), turn %d.\n", state.Seed, state.Turn)
			printStandings(state)
			return nil
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 picks one at random)")
	return cmd
}

func turnCmd() *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "turn",
		Short: "Optionally submit the player's action, then advance one turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open()
			if err != nil {
				return err
			}
			defer rt.Close()
			stop := rt.start(cmd.Context())
			defer stop()

			if action != "" {
				d, err := oracle.ParseStrict([]byte(action))
				if err != nil {
					return fmt.Errorf("player action: %w", err)
				}
				if _, err := rt.runner.SubmitPlayer(cmd.Context(), d); err != nil {
					return err
				}
			}
			rep, err := rt.runner.AdvanceTurn(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Turn %d resolved.\n", rep.Turn)
			for _, id := range social.IDs() {
				if a, ok := rep.Actions[id]; ok {
					fmt.Printf("  %-10s %s\n", id, a)
				}
			}
			if len(rep.Defaulted) > 0 {
				fmt.Printf("  defaulted to wait: %v\n", rep.Defaulted)
			}
			if rep.Winner != "" {
				fmt.Printf("%s controls the city.\n", rep.Winner)
			}
			printStandings(rt.runner.Snapshot())
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "", `player action as JSON, e.g. '{"action":"hire","count":2}'`)
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the saved game",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			state, err := persistence.NewSaveFile(cfg.Storage.SavePath()).Load()
			if errors.Is(err, persistence.ErrNoSave) {
				fmt.Println("No game in progress.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Turn %d, %s", state.Turn, state.Phase)
			if state.Winner != "" {
				fmt.Printf(", won by %s", state.Winner)
			}
			fmt.Printf(" (%s events)\n", humanize.Comma(int64(len(state.Events))))
			printStandings(state)
			return nil
		},
	}
}

func archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive [turn]",
		Short: "List archived turn snapshots, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			a := persistence.NewArchive(cfg.Storage.ArchiveDir())
			if len(args) == 0 {
				turns, err := a.Turns()
				if err != nil {
					return err
				}
				if len(turns) == 0 {
					fmt.Println("No archived turns.")
					return nil
				}
				fmt.Printf("%d archived turns: %v\n", len(turns), turns)
				return nil
			}
			turn, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("turn %q: %w", args[0], err)
			}
			state, err := a.Load(turn)
			if err != nil {
				return err
			}
			fmt.Printf("After turn %d:\n", turn)
			printStandings(state)
			return nil
		},
	}
}

func printStandings(state *engine.SaveState) {
	if state == nil {
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FAMILY\tWEALTH\tMUSCLE\tTERRITORIES\t")
	for _, id := range social.IDs() {
		f := state.Families[id]
		if f == nil {
			continue
		}
		owned := world.OwnedBy(state.Territories, id)
		name := f.Name
		if f.Eliminated {
			name += " (eliminated)"
		}
		fmt.Fprintf(tw, "%s\t$%s\t%d\t%d\t\n", name, humanize.Comma(int64(f.Wealth)), world.TotalMuscle(owned), len(owned))
	}
	tw.Flush()
}
