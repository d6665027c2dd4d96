// Package refresh schedules the recurring background work: periodic account
// re-sync and expired OAuth state cleanup.
package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stitchcal/stitch/internal/core"
	"github.com/stitchcal/stitch/internal/oauthstate"
)

// Submitter accepts accounts for background sync.
type Submitter interface {
	Submit(accountID string) error
}

// Runner owns the cron schedule.
type Runner struct {
	accounts core.AccountStore
	states   *oauthstate.Store
	queue    Submitter
	log      *slog.Logger
	cron     *cron.Cron
}

func NewRunner(accounts core.AccountStore, states *oauthstate.Store, queue Submitter, log *slog.Logger) *Runner {
	return &Runner{
		accounts: accounts,
		states:   states,
		queue:    queue,
		log:      log,
		cron:     cron.New(),
	}
}

// Start registers the jobs and starts the scheduler. syncSpec is a cron spec
// for account re-sync (e.g. "@every 15m"); the state sweep runs on a fixed
// five-minute cadence.
func (r *Runner) Start(syncSpec string) error {
	if _, err := r.cron.AddFunc(syncSpec, r.resyncAll); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc("@every 5m", r.sweepStates); err != nil {
		return err
	}
	r.cron.Start()
	r.log.Info("background scheduler started", "sync_spec", syncSpec)
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

// resyncAll submits every active, non-syncing account. A full queue skips
// the remainder; the next tick catches up.
func (r *Runner) resyncAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	accounts, err := r.accounts.ListActiveAccounts(ctx)
	if err != nil {
		r.log.Error("listing accounts for resync", "error", err)
		return
	}

	for _, acct := range accounts {
		if acct.SyncStatus == core.SyncSyncing {
			continue
		}
		if err := r.queue.Submit(acct.ID); err != nil {
			r.log.Warn("resync submission stopped", "account", acct.ID, "error", err)
			return
		}
	}
}

func (r *Runner) sweepStates() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := r.states.Sweep(ctx)
	if err != nil {
		r.log.Error("sweeping oauth states", "error", err)
		return
	}
	if n > 0 {
		r.log.Debug("swept expired oauth states", "count", n)
	}
}
