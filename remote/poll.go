package remote

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Progress is the processed/total view of a running job. Total is zero
// when the service reports only a percentage.
type Progress struct {
	Processed int
	Total     int
	Percent   float64
}

func progressOf(job *Job) Progress {
	p := Progress{Percent: job.Progress}
	switch {
	case job.Meta != nil && job.Meta.Total > 0:
		p.Processed = job.Meta.Cached + job.Meta.Translated
		p.Total = job.Meta.Total
	case job.StringsCount > 0:
		p.Total = job.StringsCount
		p.Processed = int(math.Round(job.Progress / 100 * float64(job.StringsCount)))
	}
	if p.Processed > p.Total {
		p.Processed = p.Total
	}
	return p
}

// pollState is the mutable state of one Poll call.
type pollState struct {
	delay         time.Duration
	lastActivity  time.Time
	lastUpdatedAt string
	lastProgress  *Progress
	failures      int
}

func newPollState(start time.Time, initialDelay time.Duration) *pollState {
	return &pollState{delay: initialDelay, lastActivity: start}
}

// observe records a fetched job. Activity is a change of the service's
// updatedAt or of the processed/total counts. It returns the progress and
// whether it differs from the previous observation.
func (s *pollState) observe(job *Job, now time.Time) (Progress, bool) {
	s.failures = 0

	p := progressOf(job)
	changed := s.lastProgress == nil || !sameProgress(*s.lastProgress, p)
	if changed {
		s.lastProgress = &p
		s.lastActivity = now
	}
	if job.UpdatedAt != "" && job.UpdatedAt != s.lastUpdatedAt {
		s.lastUpdatedAt = job.UpdatedAt
		s.lastActivity = now
	}
	return p, changed
}

// sameProgress compares processed/total counts. The percentage only
// matters when the service reports no counts.
func sameProgress(a, b Progress) bool {
	if a.Total > 0 || b.Total > 0 {
		return a.Processed == b.Processed && a.Total == b.Total
	}
	return a.Percent == b.Percent
}

// idle reports whether the job went without activity for longer than limit.
func (s *pollState) idle(now time.Time, limit time.Duration) bool {
	return now.Sub(s.lastActivity) > limit
}

// advance grows the delay by factor, capped at limit.
func (s *pollState) advance(factor float64, limit time.Duration) {
	next := time.Duration(float64(s.delay) * factor)
	if next > limit {
		next = limit
	}
	s.delay = next
}

// Poll fetches the job status until it is completed or failed. onProgress,
// when set, is called each time the processed/total counts change.
//
// The first status is fetched immediately. The wait between polls starts
// at PollInitialDelay and grows by PollBackoff up to PollMaxDelay. Polling
// gives up with KindTimeout when the job shows no activity for
// ActivityTimeout, however long it has been running overall.
//
// A completed job is returned with a nil error; a failed job is returned
// together with an error classified from its errorMessage.
func (c *Client) Poll(ctx context.Context, jobID string, onProgress func(Progress)) (*Job, error) {
	maxFailures := c.opts.effectiveMaxRetries()
	idleLimit := c.opts.effectiveActivityTimeout()
	st := newPollState(c.now(), c.opts.effectivePollInitialDelay())

	var lastStatus Status
	for {
		job, err := c.fetchJob(ctx, jobID)
		now := c.now()

		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil && KindOf(err) == KindNetwork:
			st.failures++
			if st.failures >= maxFailures {
				return nil, err
			}
		case err != nil:
			return nil, err
		default:
			lastStatus = job.Status
			if p, changed := st.observe(job, now); changed && onProgress != nil {
				onProgress(p)
			}
			switch job.Status {
			case StatusCompleted:
				return job, nil
			case StatusFailed:
				return job, jobFailed(job)
			}
		}

		if st.idle(now, idleLimit) {
			return nil, &Error{
				Kind: KindTimeout,
				Diagnostic: fmt.Sprintf("job %s: no activity for %s (last status %q, updatedAt %q)",
					jobID, now.Sub(st.lastActivity).Round(time.Millisecond), lastStatus, st.lastUpdatedAt),
			}
		}

		if err := c.sleep(ctx, st.delay); err != nil {
			return nil, err
		}
		st.advance(c.opts.effectivePollBackoff(), c.opts.effectivePollMaxDelay())
	}
}

// jobFailed classifies the error message of a failed job. Messages that
// match no category count as a server error.
func jobFailed(job *Job) *Error {
	return &Error{
		Kind:       classify(0, job.ErrorMessage, KindServerError),
		Diagnostic: fmt.Sprintf("job %s failed: %s", job.ID, truncate(job.ErrorMessage, 500)),
	}
}
