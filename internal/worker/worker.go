package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mail-messenger/internal/config"
	"mail-messenger/internal/db"
	"mail-messenger/internal/dispatch"
	"mail-messenger/internal/observability"
	"mail-messenger/internal/queue"
)

// Store is the queue surface the worker drives. *queue.Store satisfies it;
// tests substitute fakes.
type Store interface {
	SelectCandidates(ctx context.Context) ([]queue.Candidate, error)
	ClaimOne(ctx context.Context, cand queue.Candidate) (*queue.Message, error)
	Archive(ctx context.Context, msg *queue.Message, success bool) error
	QueueDepth(ctx context.Context) (int, error)
}

// Dispatcher sends one claimed row and reports the outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *queue.Message) (dispatch.Kind, dispatch.Outcome)
}

// Tally is the per-batch result summary.
type Tally struct {
	Success int64
	Failed  int64
	Skipped int64
}

func (t Tally) Total() int64 {
	return t.Success + t.Failed + t.Skipped
}

// Worker orchestrates claim, dispatch and archive over a shared queue.
// All cross-process coordination happens in the database; the only shared
// in-process state is the tally counters and the shutdown context.
type Worker struct {
	opts        config.Options
	identity    string
	logger      *zap.Logger
	metrics     *observability.Metrics
	store       Store
	dispatcher  Dispatcher
	reconnect   func(ctx context.Context) (Store, error)
	concurrency int
}

type Params struct {
	Options    config.Options
	Identity   string
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Store      Store
	Dispatcher Dispatcher

	// Reconnect re-establishes the database after a recoverable error
	// and returns a store bound to the fresh connection. Optional; when
	// nil, recoverable errors are fatal.
	Reconnect func(ctx context.Context) (Store, error)

	// Concurrency bounds overlapping provider calls; zero means the
	// configured default.
	Concurrency int
}

func New(p Params) *Worker {
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = config.SendConcurrency()
	}
	return &Worker{
		opts:        p.Options,
		identity:    p.Identity,
		logger:      p.Logger,
		metrics:     p.Metrics,
		store:       p.Store,
		dispatcher:  p.Dispatcher,
		reconnect:   p.Reconnect,
		concurrency: concurrency,
	}
}

// Run executes batches until shutdown, a fatal error, or (outside loop
// mode) an empty batch. The shutdown context is consulted between batches
// and during the jitter sleep only: a batch in flight always drains, so no
// row is left half-archived by a signal.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutdown flag set, exiting")
			return nil
		default:
		}

		tally, err := w.RunBatch(context.WithoutCancel(ctx))
		if err != nil {
			if db.IsRecoverable(err) {
				w.logger.Warn("recoverable database error", zap.Error(err))
				if err := w.reestablish(ctx); err != nil {
					return err
				}
				continue
			}
			return err
		}

		if tally.Total() > 0 {
			w.logger.Debug("batch complete",
				zap.Int64("success", tally.Success),
				zap.Int64("failed", tally.Failed),
				zap.Int64("skipped", tally.Skipped))
		}

		if !w.opts.Loop && tally.Total() == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			w.logger.Info("shutdown flag set, exiting")
			return nil
		case <-time.After(w.jitterSleep()):
		}
	}
}

// RunBatch claims up to FETCH_LIMIT rows and pushes each through dispatch
// and archive. Claims are taken serially in FIFO order; provider calls
// overlap under the send semaphore. Dispatch errors never abort the batch;
// claim-path database errors do.
func (w *Worker) RunBatch(ctx context.Context) (Tally, error) {
	start := time.Now()
	defer func() {
		w.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}()

	logger := w.logger.With(zap.String("batch_id", uuid.NewString()))

	candidates, err := w.store.SelectCandidates(ctx)
	if err != nil {
		return Tally{}, err
	}

	var success, failed, skipped int64
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for _, cand := range candidates {
		msg, err := w.store.ClaimOne(ctx, cand)
		switch {
		case errors.Is(err, queue.ErrLockBusy):
			skipped++
			w.metrics.ClaimSkippedTotal.WithLabelValues("lock").Inc()
			continue
		case errors.Is(err, queue.ErrClaimLost):
			skipped++
			w.metrics.ClaimSkippedTotal.WithLabelValues("stolen").Inc()
			continue
		case err != nil:
			wg.Wait()
			return Tally{Success: success, Failed: failed, Skipped: skipped}, err
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(msg *queue.Message) {
			defer wg.Done()
			defer func() { <-sem }()

			if w.process(ctx, logger, msg) {
				atomic.AddInt64(&success, 1)
			} else {
				atomic.AddInt64(&failed, 1)
			}
		}(msg)
	}
	wg.Wait()

	tally := Tally{Success: success, Failed: failed, Skipped: skipped}
	w.metrics.MessagesProcessedTotal.WithLabelValues("success").Add(float64(tally.Success))
	w.metrics.MessagesProcessedTotal.WithLabelValues("failed").Add(float64(tally.Failed))
	w.metrics.MessagesProcessedTotal.WithLabelValues("skipped").Add(float64(tally.Skipped))

	if depth, err := w.store.QueueDepth(ctx); err == nil {
		w.metrics.QueueDepth.Set(float64(depth))
	}
	return tally, nil
}

// process dispatches one claimed row and applies the archive policy:
// success archives to MailArchive; an invalid destination archives to
// FailedMail at once; a provider failure archives to FailedMail only when
// the attempt budget is spent, otherwise the row stays claimed for retry.
func (w *Worker) process(ctx context.Context, logger *zap.Logger, msg *queue.Message) bool {
	kind, outcome := w.dispatcher.Dispatch(ctx, msg)

	switch outcome {
	case dispatch.OutcomeSuccess:
		w.metrics.ProviderCallsTotal.WithLabelValues(string(kind), "success").Inc()
		w.archive(ctx, logger, msg, true)
		return true
	case dispatch.OutcomeInvalid:
		w.archive(ctx, logger, msg, false)
		return false
	default:
		w.metrics.ProviderCallsTotal.WithLabelValues(string(kind), "failed").Inc()
		if msg.Attempts >= config.MaxAttempts {
			w.archive(ctx, logger, msg, false)
		}
		return false
	}
}

func (w *Worker) archive(ctx context.Context, logger *zap.Logger, msg *queue.Message, success bool) {
	if err := w.store.Archive(ctx, msg, success); err != nil {
		// The row stays in whatever durable state the transaction
		// boundary left: still claimed by us, retried on a later pass,
		// or reclaimable by a peer after MAX_AGE.
		logger.Error("failed to archive row", zap.Int64("id", msg.ID), zap.Error(err))
	}
}

func (w *Worker) jitterSleep() time.Duration {
	factor := 0.8 + 0.4*rand.Float64()
	return time.Duration(w.opts.Interval * factor * float64(time.Second))
}

// reestablish dials the database again with exponential backoff. Gives up
// (and thus exits the process) when the backoff budget is spent, leaving
// the restart to the supervisor.
func (w *Worker) reestablish(ctx context.Context) error {
	if w.reconnect == nil {
		return errors.New("no reconnect configured")
	}
	w.metrics.ReconnectsTotal.Inc()

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		store, err := w.reconnect(ctx)
		if err != nil {
			w.logger.Warn("reconnect attempt failed", zap.Error(err))
			return err
		}
		w.store = store
		w.logger.Info("database connection re-established")
		return nil
	}, policy)
}
