// Package scheduler implements the adjacent periodic-task runner: a
// minimal cron-style ticker that sweeps expired objects out of the
// Object Store, independent of job flow and holding no Job Store or
// Broker resources across ticks. The five-field expression matching
// here is a deliberately small, stdlib-only field-matcher rather than
// a pulled-in cron dependency, structured as a ticker-driven
// background loop like the rest of this system's supervisors.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/smi-gateway/smi/internal/jobtype"
	"github.com/smi-gateway/smi/internal/objectstore"
)

// PruneJob prunes objects older than Retention from the bucket for
// JobType, on the schedule described by Spec (a standard five-field
// cron expression: minute hour day-of-month month day-of-week).
type PruneJob struct {
	JobType   jobtype.Type
	Retention time.Duration
	Spec      string
}

// Scheduler runs PruneJobs against an Object Store on a one-tick-per-
// minute loop, matching each job's cron Spec against the current
// minute.
type Scheduler struct {
	store objectstore.Store
	jobs  []scheduledJob
	log   *slog.Logger

	stop chan struct{}
	done chan struct{}
}

type scheduledJob struct {
	PruneJob
	expr cronExpr
}

// New builds a Scheduler. Malformed specs are rejected immediately so
// a typo surfaces at startup rather than silently never firing.
func New(store objectstore.Store, jobs []PruneJob, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{store: store, log: log, stop: make(chan struct{}), done: make(chan struct{})}
	for _, j := range jobs {
		expr, err := parseCron(j.Spec)
		if err != nil {
			return nil, fmt.Errorf("scheduler: job for %s: %w", j.JobType, err)
		}
		s.jobs = append(s.jobs, scheduledJob{PruneJob: j, expr: expr})
	}
	return s, nil
}

// Start runs the tick loop in a background goroutine until Stop is
// called. Each minute boundary is checked against every job's
// schedule; matching jobs prune sequentially so a slow Prune call
// never overlaps with itself on the next tick.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop blocks until the tick loop has exited.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.runDue(ctx, now)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	for _, j := range s.jobs {
		if !j.expr.matches(now) {
			continue
		}
		bucket := jobtype.BucketForJobType(j.JobType)
		if err := s.store.Prune(ctx, bucket, j.Retention); err != nil {
			s.log.Warn("prune failed", "bucket", bucket, "error", err)
			continue
		}
		s.log.Info("pruned bucket", "bucket", bucket, "older_than", j.Retention)
	}
}

// cronExpr is a parsed five-field expression. Each field is either a
// wildcard (matches everything) or an explicit set of accepted values.
type cronExpr struct {
	minute, hour, dom, month, dow fieldSet
}

type fieldSet struct {
	wildcard bool
	values   map[int]bool
}

func (f fieldSet) matches(v int) bool {
	return f.wildcard || f.values[v]
}

func parseCron(spec string) (cronExpr, error) {
	fields := strings.Fields(spec)
	if len(fields) != 5 {
		return cronExpr{}, fmt.Errorf("expected 5 fields, got %d (%q)", len(fields), spec)
	}
	minute, err := parseField(fields[0], 0, 59)
	if err != nil {
		return cronExpr{}, fmt.Errorf("minute field: %w", err)
	}
	hour, err := parseField(fields[1], 0, 23)
	if err != nil {
		return cronExpr{}, fmt.Errorf("hour field: %w", err)
	}
	dom, err := parseField(fields[2], 1, 31)
	if err != nil {
		return cronExpr{}, fmt.Errorf("day-of-month field: %w", err)
	}
	month, err := parseField(fields[3], 1, 12)
	if err != nil {
		return cronExpr{}, fmt.Errorf("month field: %w", err)
	}
	dow, err := parseField(fields[4], 0, 6)
	if err != nil {
		return cronExpr{}, fmt.Errorf("day-of-week field: %w", err)
	}
	return cronExpr{minute: minute, hour: hour, dom: dom, month: month, dow: dow}, nil
}

// parseField parses one cron field: "*", a single integer, a
// comma-separated list, or a "low-high" range, bounded by [min, max].
func parseField(raw string, min, max int) (fieldSet, error) {
	if raw == "*" {
		return fieldSet{wildcard: true}, nil
	}
	values := make(map[int]bool)
	for _, part := range strings.Split(raw, ",") {
		lo, hi := part, part
		if i := strings.IndexByte(part, '-'); i >= 0 {
			lo, hi = part[:i], part[i+1:]
		}
		loN, err := strconv.Atoi(lo)
		if err != nil {
			return fieldSet{}, fmt.Errorf("invalid value %q", part)
		}
		hiN, err := strconv.Atoi(hi)
		if err != nil {
			return fieldSet{}, fmt.Errorf("invalid value %q", part)
		}
		if loN < min || hiN > max || loN > hiN {
			return fieldSet{}, fmt.Errorf("value %q out of range [%d,%d]", part, min, max)
		}
		for v := loN; v <= hiN; v++ {
			values[v] = true
		}
	}
	return fieldSet{values: values}, nil
}

func (e cronExpr) matches(t time.Time) bool {
	return e.minute.matches(t.Minute()) &&
		e.hour.matches(t.Hour()) &&
		e.dom.matches(t.Day()) &&
		e.month.matches(int(t.Month())) &&
		e.dow.matches(int(t.Weekday()))
}
