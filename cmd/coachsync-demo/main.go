// Command coachsync-demo wires the sync client from environment config,
// performs a few sample writes and dumps the engine's health. With
// COACHSYNC_REMOTE_URL set it also starts background sync and runs until
// interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sidelinehq/coachsync"
	"github.com/sidelinehq/coachsync/config"
	"github.com/sidelinehq/coachsync/entity"
	"github.com/sidelinehq/coachsync/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "coachsync-demo:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(cfg.LogConfig())
	logger := logging.Default()

	client, err := coachsync.New(cfg, coachsync.WithLogger(logger),
		coachsync.WithEvictionConfirm(func(ctx context.Context, candidate entity.Envelope) (bool, error) {
			logger.Info("approving eviction of stale game", slog.String("id", candidate.ID))
			return true, nil
		}))
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()

	if err := sampleWrites(ctx, client, logger); err != nil {
		return err
	}

	if cfg.RemoteURL == "" {
		logger.Info("no remote configured, staying offline")
		return dumpHealth(ctx, client, logger)
	}

	if err := client.Start(ctx); err != nil {
		return err
	}
	unsubscribe := client.Subscribe(func(r coachsync.SyncResult) {
		logger.Info("pull pass finished",
			slog.Int("pulled", r.Pulled),
			slog.Int("applied", r.Applied),
			slog.Int("errors", len(r.Errors)),
			slog.Duration("took", r.Duration))
	})
	defer unsubscribe()

	syncCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if _, err := client.SyncNow(syncCtx); err != nil {
		logger.Warn("initial sync failed", slog.Any("error", err))
	}
	cancel()

	if err := dumpHealth(ctx, client, logger); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	logger.Info("background sync running, interrupt to exit")
	<-stop

	client.Stop()
	return nil
}

func sampleWrites(ctx context.Context, client *coachsync.Client, logger *logging.Logger) error {
	player, err := client.Roster.Create(ctx, entity.Player{
		Name:     "Alex Morgan",
		Position: "Forward",
	})
	if err != nil {
		return fmt.Errorf("create player: %w", err)
	}
	logger.Info("created player", slog.String("id", player.ID))

	game, err := client.Games.Create(ctx, entity.SavedGame{
		Opponent:  "Harbor United",
		KickoffAt: time.Now().Add(48 * time.Hour),
	})
	if err != nil {
		return fmt.Errorf("create game: %w", err)
	}
	logger.Info("created game", slog.String("id", game.ID))

	if err := client.Settings.SetCurrentGameID(ctx, game.ID); err != nil {
		return fmt.Errorf("set current game: %w", err)
	}

	if _, err := client.AppState.Refresh(ctx); err != nil {
		logger.Warn("app state refresh failed", slog.Any("error", err))
	}
	return nil
}

func dumpHealth(ctx context.Context, client *coachsync.Client, logger *logging.Logger) error {
	h, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	logger.Info("sync health",
		slog.Bool("online", h.Online),
		slog.Int("pending", h.Queue.PendingCount),
		slog.Int("abandoned", len(h.Queue.Abandoned)),
		slog.Bool("can_resume", h.AppState.CanResume),
		slog.String("resume_game", h.AppState.ResumeGameID),
		slog.Bool("first_time_user", h.AppState.IsFirstTimeUser))
	for collection, depth := range h.Queue.PendingPerCollection {
		logger.Debug("queue depth",
			slog.String("collection", string(collection)),
			slog.Int("depth", depth))
	}
	return nil
}
