// Command repertoire manages a chess opening repertoire: ingesting PGN
// games into the position tree, serving the JSON API, and dumping the
// tree to the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openingbook/repertoire/internal/board"
	"github.com/openingbook/repertoire/internal/config"
	"github.com/openingbook/repertoire/internal/httpapi"
	"github.com/openingbook/repertoire/internal/ingest"
	"github.com/openingbook/repertoire/internal/logx"
	"github.com/openingbook/repertoire/internal/pgnsource"
	"github.com/openingbook/repertoire/internal/storage"
	"github.com/openingbook/repertoire/internal/training"
	"github.com/openingbook/repertoire/internal/tree"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           "repertoire",
		Short:         "Opening repertoire tree and training engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "repertoire.toml", "path to TOML config")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd(flags))
	rootCmd.AddCommand(newIngestCmd(flags))
	rootCmd.AddCommand(newTreeCmd(flags))
	return rootCmd
}

func loadConfig(flags *rootFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return cfg, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	return cfg, nil
}

// openTree opens storage and restores the persisted tree, falling
// back to a fresh root-only tree on first run.
func openTree(ctx context.Context, cfg config.Config) (*tree.Tree, *storage.SQLite, error) {
	repo, err := storage.Open(cfg.Data.DBPath)
	if err != nil {
		return nil, nil, err
	}
	repo.SetSourceDir(cfg.Data.PGNDir)
	t, err := repo.Load(ctx)
	if err != nil {
		_ = repo.Close()
		return nil, nil, err
	}
	if t == nil {
		t = tree.New()
	}
	return t, repo, nil
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the repertoire JSON API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			log := logx.New(cfg.Log.Level)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			t, repo, err := openTree(ctx, cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			sessions := training.NewStore(t)
			srv := &http.Server{
				Addr:    cfg.Server.Addr,
				Handler: httpapi.NewServer(t, sessions, board.NewEngine(), log).Handler(),
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Info().Str("addr", cfg.Server.Addr).Int("nodes", t.Len()).Msg("serving")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			// Persist any API-driven edits before exit.
			saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer saveCancel()
			if err := repo.Save(saveCtx, t); err != nil {
				log.Error().Err(err).Msg("save on shutdown failed")
				return err
			}
			return nil
		},
	}
}

func newIngestCmd(flags *rootFlags) *cobra.Command {
	var (
		dir    string
		color  string
		player string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest PGN files into the repertoire tree",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if dir != "" {
				cfg.Data.PGNDir = dir
			}
			if color != "" {
				cfg.Data.OwnerColor = color
			}
			if player != "" {
				cfg.Data.PlayerName = player
			}
			owner, err := pgnsource.ParseColor(cfg.Data.OwnerColor)
			if err != nil {
				return err
			}
			log := logx.New(cfg.Log.Level)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			t, repo, err := openTree(ctx, cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			games, err := pgnsource.New(cfg.Data.PGNDir, owner, cfg.Data.PlayerName, log).Games(ctx)
			if err != nil {
				return err
			}
			log.Info().Int("games", len(games)).Str("dir", cfg.Data.PGNDir).Msg("parsed game sources")

			pipeline := ingest.New(ingest.Config{
				Tree:    t,
				Engine:  board.NewEngine(),
				Remover: repo,
				Logger:  log,
			})
			rep := pipeline.AddAll(ctx, games)
			for _, ge := range rep.Errors {
				log.Warn().Str("source", ge.SourceID).Err(ge.Err).Msg("ingest error")
			}

			if err := repo.Save(ctx, t); err != nil {
				return err
			}
			log.Info().
				Int("processed", rep.Processed).
				Int("duplicates", rep.Duplicates).
				Int("skipped", rep.Skipped).
				Int("superseded", rep.Superseded).
				Int("nodes", t.Len()).
				Msg("ingest complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "PGN directory (overrides config)")
	cmd.Flags().StringVar(&color, "color", "", "repertoire owner color: white or black")
	cmd.Flags().StringVar(&player, "player", "", "owner's player name; resolves color per game from PGN tags")
	return cmd
}

func newTreeCmd(flags *rootFlags) *cobra.Command {
	var (
		maxDepth    int
		maxChildren int
	)
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the repertoire tree",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			t, repo, err := openTree(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer repo.Close()
			printTree(cmd, t, t.RootID(), 0, maxDepth, maxChildren)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxDepth, "depth", 3, "maximum depth to print")
	cmd.Flags().IntVar(&maxChildren, "children", 5, "maximum children per node")
	return cmd
}

func printTree(cmd *cobra.Command, t *tree.Tree, id tree.NodeID, depth, maxDepth, maxChildren int) {
	edges, err := t.ChildrenOf(id)
	if err != nil {
		return
	}
	for i, e := range edges {
		if i >= maxChildren {
			cmd.Printf("%*s...\n", depth*2, "")
			return
		}
		r := e.Node.Line.Rates()
		if r.NoData {
			cmd.Printf("%*s%s [games: %d, no data]\n", depth*2, "", e.SAN, e.Node.Line.Games)
		} else {
			cmd.Printf("%*s%s [games: %d, win%%: %.1f]\n", depth*2, "", e.SAN, e.Node.Line.Games, r.Win)
		}
		if depth+1 < maxDepth {
			printTree(cmd, t, e.Node.ID, depth+1, maxDepth, maxChildren)
		}
	}
}
