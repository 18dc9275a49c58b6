package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// archiveInterval is how often FullMode checks the journal for events past
// the retention window; snapshotInterval is how often engine state is
// written to object storage.
const (
	archiveInterval  = 6 * time.Hour
	snapshotInterval = time.Hour
)

// DemoMode runs the scripted issuance lifecycle once and exits. The relay
// goroutine, when configured, flushes journal and bus deliveries before the
// mode returns.
func (a *App) DemoMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting demo mode")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if deps.Relay != nil {
		g.Go(func() error {
			return deps.Relay.Run(ctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return a.runDemo(ctx, deps)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("demo complete")
	return nil
}

// FullMode runs the engine as a long-lived process: the relay delivers
// events to the journal and bus, and the archiver periodically moves aged
// journal entries to object storage. It blocks until the context is
// cancelled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if deps.Relay != nil {
		g.Go(func() error {
			return deps.Relay.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			ticker := time.NewTicker(archiveInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Journal.RetentionDays)
					archived, err := deps.Archiver.Archive(ctx, cutoff)
					if err != nil {
						a.logger.ErrorContext(ctx, "journal archival failed",
							slog.String("error", err.Error()),
						)
						continue
					}
					if archived > 0 {
						a.logger.InfoContext(ctx, "journal archival pass complete",
							slog.Int64("archived", archived),
						)
					}
				}
			}
		})
	}

	if deps.Blob != nil {
		snap := NewSnapshotter(deps.Blob, deps.Registry, deps.Vault, deps.Clock, a.logger)
		g.Go(func() error {
			ticker := time.NewTicker(snapshotInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if err := snap.Snapshot(ctx); err != nil {
						a.logger.ErrorContext(ctx, "state snapshot failed",
							slog.String("error", err.Error()),
						)
					}
				}
			}
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	return g.Wait()
}
