package commands

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"htr/internal/domain"
	"htr/internal/execution"
	"htr/internal/session"
	"htr/internal/ui"
)

// runOutcome is what a finished run leaves behind
type runOutcome struct {
	Output *domain.RunSummaryOutput
	Err    error // Configuration or host error reported by the run
}

// executeRun runs the workspace selection once and drains its event stream.
// Cancelling ctx cancels the run; the stream still ends with RunsComplete.
func executeRun(ctx context.Context, ws *session.Workspace, log *ui.Logger, showProgress bool) (*runOutcome, error) {
	ctrl := ws.Controller()
	cat := ws.Catalog()

	opts := ctrl.Options()
	if opts.ResultsPath == "" {
		opts.ResultsPath = ws.Config().DefaultResultsPath()
		if err := ctrl.SetOptions(opts); err != nil {
			return nil, err
		}
	}

	events, err := ctrl.RunAllTests(ctx)
	if err != nil {
		return nil, err
	}

	var progress *ui.ProgressBar
	if showProgress {
		progress = ui.NewProgressBar(len(cat.Runnable()))
	}

	outcome := &runOutcome{}
	consumed := make(chan struct{})
	g, gctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		defer close(consumed)
		for ev := range events {
			cat.Apply(ev.Updates...)
			if progress != nil {
				progress.Update(ev.Counts)
			}

			switch ev.Kind {
			case execution.EventTestTimedOut:
				log.Warn("%s: %s", ev.Test.ID, ev.Message)
			case execution.EventTestFailed:
				log.Debug("%s failed: %s", ev.Test.ID, ev.Message)
			case execution.EventBatchStarted:
				log.Debug("Batch %d of %d started (%d test(s))", ev.Batch, ev.Batches, len(ev.Tests))
			case execution.EventRunsComplete:
				outcome.Err = ev.Err
				if ev.Summary != nil {
					outcome.Output = &domain.RunSummaryOutput{Meta: *ev.Summary, Details: ev.Failures}
				}
			}
		}
		if progress != nil {
			progress.Finish()
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-ctx.Done():
			log.Warn("Cancelling test run...")
			ctrl.Cancel()
		case <-consumed:
		case <-gctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if outcome.Output == nil {
		return nil, errors.New("test run ended without a summary")
	}
	return outcome, nil
}
