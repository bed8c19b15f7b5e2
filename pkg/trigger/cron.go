package trigger

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/flowcore/dagflow/pkg/engineerr"
)

// CronTrigger is a scheduled trigger: robfig/cron computes the next run
// time before each tick's job runs, so a long-running workflow does not
// shift the schedule. A tick that lands while the workflow is still
// running is skipped without being reported (see tick).
type CronTrigger struct {
	*Trigger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	logger  func(err error)
}

// NewCron builds a scheduled trigger firing on the given standard 5-field
// cron expression, against c (a caller-owned, already-started scheduler so
// multiple cron triggers can share one clock goroutine).
func NewCron(id, name, dataType, expr string, c *cron.Cron, onError func(err error)) (*CronTrigger, error) {
	t := &CronTrigger{
		Trigger: New(id, name, "cron", dataType),
		cron:    c,
		logger:  onError,
	}

	entryID, err := c.AddFunc(expr, t.tick)
	if err != nil {
		return nil, err
	}
	t.entryID = entryID
	return t, nil
}

// tick fires the trigger with its configured default data. A tick that
// lands while the workflow is already running is skipped rather than
// queued — every other error is reported through the configured
// callback, since a scheduler goroutine has no caller to return an error
// to.
func (t *CronTrigger) tick() {
	err := t.Fire(context.Background(), nil)
	if err == nil || errors.Is(err, &engineerr.Error{Kind: engineerr.KindAlreadyRunning}) {
		return
	}
	if t.logger != nil {
		t.logger(err)
	}
}

// Stop removes this trigger's entry from its scheduler. The scheduler
// itself keeps running for any other registered entries.
func (t *CronTrigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cron.Remove(t.entryID)
}
