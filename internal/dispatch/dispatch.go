// Package dispatch runs the copytool's main loop: receive an action list
// from the coordinator, fan its items out to the action handlers, and log a
// completion summary, the way ct_run's for(;;) { ct_process... } loop does.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coldtier/hsmcopytool/internal/actions"
	"github.com/coldtier/hsmcopytool/internal/coordinator"
	"github.com/coldtier/hsmcopytool/internal/ctlog"
	"github.com/coldtier/hsmcopytool/internal/options"
	"golang.org/x/sync/errgroup"
)

// Run registers client for opt's mount and archive ids, then repeatedly
// receives action lists and processes their items until the coordinator
// signals shutdown, ctx is canceled, or (with opt.AbortOnError) a major
// error occurs. It returns nil on a clean shutdown.
//
// Items are fanned out to detached workers via g.Go and never joined here:
// Run keeps calling Recv while earlier items are still copying, exactly like
// the original's spawn-and-forget pthread_create loop. g only bounds
// concurrency (via SetLimit, when opt.MaxWorkers > 0) so that a flood of
// actions applies backpressure at spawn time rather than growing an
// unbounded goroutine count; it does not serialize one list behind another.
func Run(ctx context.Context, client coordinator.Client, opt options.Options, counters *actions.Counters, log *slog.Logger) error {
	if err := client.Register(ctx, opt.Mount, opt.ArchiveIDs); err != nil {
		return fmt.Errorf("dispatch: register: %w", err)
	}
	defer func() {
		if err := client.Unregister(); err != nil {
			ctlog.Error(log, "dispatch: unregister failed", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if opt.MaxWorkers > 0 {
		g.SetLimit(opt.MaxWorkers)
	}

	for {
		// Workers are detached, so a major error from an earlier list is
		// only visible once its worker has finished: check before every
		// Recv and again after the shutdown drain below.
		if opt.AbortOnError && counters.ErrMajor.Load() > 0 {
			return fmt.Errorf("dispatch: aborting after major error (AbortOnError set)")
		}
		list, err := client.Recv(ctx)
		switch {
		case errors.Is(err, coordinator.ErrShutdown):
			// A clean ShutDown is the one place Run waits for in-flight
			// workers: unlike a killed process (signal teardown abandons
			// everything), the coordinator here expects every dispatched
			// item to have reached End before Run returns.
			ctlog.Notice(log, "dispatch: coordinator requested shutdown")
			_ = g.Wait()
			if opt.AbortOnError && counters.ErrMajor.Load() > 0 {
				return fmt.Errorf("dispatch: aborting after major error (AbortOnError set)")
			}
			return nil
		case errors.Is(err, coordinator.ErrRetry):
			ctlog.Warn(log, "dispatch: transient receive error, retrying")
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("dispatch: recv: %w", err)
		}

		if opt.FSName != "" && list.FSName != "" && list.FSName != opt.FSName {
			counters.ErrMajor.Add(1)
			ctlog.Error(log, "dispatch: action list for unexpected filesystem",
				"got", list.FSName, "want", opt.FSName)
			if opt.AbortOnError {
				return fmt.Errorf("dispatch: aborting after major error (AbortOnError set)")
			}
			continue
		}

		processList(gctx, client, list, opt, counters, log, g)
	}
}

// processList fans list's items out across g, a worker pool bounded by
// opt.MaxWorkers (0 means unbounded, one goroutine per item). It returns as
// soon as every item has been spawned (or, under SetLimit, as soon as a
// slot is available to spawn it) — it never waits for items to finish.
func processList(ctx context.Context, client coordinator.Client, list *coordinator.ActionList, opt options.Options, counters *actions.Counters, log *slog.Logger, g *errgroup.Group) {
	for i := range list.Items {
		item := &list.Items[i]
		g.Go(func() error {
			dispatchItem(ctx, client, item, opt, counters, log)
			return nil
		})
	}
}

// dispatchItem routes item to its handler by kind, mirroring
// ct_process_item's switch on hai_action.
func dispatchItem(ctx context.Context, client coordinator.Client, item *coordinator.ActionItem, opt options.Options, counters *actions.Counters, log *slog.Logger) {
	switch item.Kind {
	case coordinator.ActionArchive:
		actions.Archive(ctx, client, item, opt, counters, log)
	case coordinator.ActionRestore:
		actions.Restore(ctx, client, item, opt, counters, log)
	case coordinator.ActionRemove:
		actions.Remove(ctx, client, item, opt, counters, log)
	case coordinator.ActionCancel:
		actions.Cancel(ctx, client, item, counters, log)
	default:
		actions.ReportUnknown(client, item, counters, log)
	}
}
