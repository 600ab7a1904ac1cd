package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"backoffice/internal/service"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job names
const (
	JobReconcile     = "reconcile"
	JobCloseSessions = "close-stale-sessions"
)

const jobTimeout = 5 * time.Minute

type Reconciler interface {
	Reconcile(ctx context.Context) (service.ReconcileReport, error)
}

type SessionCloser interface {
	CloseStaleSessions(ctx context.Context) (int, error)
}

// Job is a named unit of scheduled work
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Jobs builds the maintenance jobs of the back office
func Jobs(reconciler Reconciler, closer SessionCloser, reconcileSchedule, staleSessionSchedule string, log *zap.Logger) map[string]Job {
	return map[string]Job{
		JobReconcile: {
			Name:     JobReconcile,
			Schedule: reconcileSchedule,
			Run: func(ctx context.Context) error {
				report, err := reconciler.Reconcile(ctx)
				if err != nil {
					return err
				}
				if report.Clean() {
					log.Info("reconciliation clean")
					return nil
				}
				for _, m := range report.CustomerMismatches {
					log.Warn("customer balance drift",
						zap.String("customer_id", m.CustomerID.String()),
						zap.String("name", m.Name),
						zap.String("balance", m.StoredBalance.StringFixed(2)),
						zap.String("ledger", m.LedgerBalance.StringFixed(2)),
					)
				}
				for _, p := range report.InconsistentProducts {
					log.Warn("stock counters out of bounds",
						zap.String("product_id", p.ID.String()),
						zap.Int("stock", p.Stock),
						zap.Int("reserved", p.Reserved),
					)
				}
				return nil
			},
		},
		JobCloseSessions: {
			Name:     JobCloseSessions,
			Schedule: staleSessionSchedule,
			Run: func(ctx context.Context) error {
				n, err := closer.CloseStaleSessions(ctx)
				if err != nil {
					return err
				}
				log.Info("stale cash sessions closed", zap.Int("count", n))
				return nil
			},
		},
	}
}

// Names lists the registered job names in a stable order
func Names(jobs map[string]Job) []string {
	names := make([]string, 0, len(jobs))
	for name := range jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunOnce executes a single job by name
func RunOnce(ctx context.Context, jobs map[string]Job, name string) error {
	job, ok := jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return job.Run(ctx)
}

// Start registers every job on a cron scheduler and starts it
func Start(jobs map[string]Job, loc *time.Location, log *zap.Logger) (*cron.Cron, error) {
	cl := cronLogger{log: log.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, name := range Names(jobs) {
		job := jobs[name]
		if _, err := c.AddFunc(job.Schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			start := time.Now()
			if err := job.Run(ctx); err != nil {
				log.Error("job failed", zap.String("job", job.Name), zap.Error(err))
				return
			}
			log.Debug("job finished", zap.String("job", job.Name), zap.Duration("cost", time.Since(start)))
		}); err != nil {
			return nil, fmt.Errorf("failed to register job %s: %w", name, err)
		}
	}
	c.Start()
	return c, nil
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
