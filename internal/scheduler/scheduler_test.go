package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/smi-gateway/smi/internal/jobtype"
)

func TestParseCronWildcardMatchesEverything(t *testing.T) {
	expr, err := parseCron("* * * * *")
	if err != nil {
		t.Fatalf("parseCron failed: %v", err)
	}
	if !expr.matches(time.Date(2026, 7, 31, 3, 17, 0, 0, time.UTC)) {
		t.Fatal("expected wildcard expression to match any time")
	}
}

func TestParseCronHourlyAtMinuteZero(t *testing.T) {
	expr, err := parseCron("0 * * * *")
	if err != nil {
		t.Fatalf("parseCron failed: %v", err)
	}
	if !expr.matches(time.Date(2026, 7, 31, 4, 0, 0, 0, time.UTC)) {
		t.Fatal("expected match at minute 0")
	}
	if expr.matches(time.Date(2026, 7, 31, 4, 1, 0, 0, time.UTC)) {
		t.Fatal("expected no match at minute 1")
	}
}

func TestParseCronRangeAndList(t *testing.T) {
	expr, err := parseCron("0,30 9-17 * * 1-5")
	if err != nil {
		t.Fatalf("parseCron failed: %v", err)
	}
	// 2026-07-31 is a Friday.
	if !expr.matches(time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)) {
		t.Fatal("expected match within business hours on a weekday")
	}
	if expr.matches(time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)) {
		t.Fatal("expected no match on a Saturday")
	}
	if expr.matches(time.Date(2026, 7, 31, 9, 15, 0, 0, time.UTC)) {
		t.Fatal("expected no match at minute 15")
	}
}

func TestParseCronRejectsWrongFieldCount(t *testing.T) {
	if _, err := parseCron("* * * *"); err == nil {
		t.Fatal("expected error for a four-field expression")
	}
}

func TestParseCronRejectsOutOfRangeValue(t *testing.T) {
	if _, err := parseCron("60 * * * *"); err == nil {
		t.Fatal("expected error for minute 60")
	}
}

type recordingStore struct {
	pruned []string
}

func (s *recordingStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	return "", nil
}
func (s *recordingStore) SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return "", nil
}
func (s *recordingStore) Get(ctx context.Context, bucket, key string) ([]byte, error) { return nil, nil }
func (s *recordingStore) Delete(ctx context.Context, bucket, key string) error        { return nil }
func (s *recordingStore) Prune(ctx context.Context, bucket string, olderThan time.Duration) error {
	s.pruned = append(s.pruned, bucket)
	return nil
}
func (s *recordingStore) Close() error { return nil }

func TestSchedulerRunDueCallsPruneForMatchingJobs(t *testing.T) {
	store := &recordingStore{}
	s, err := New(store, []PruneJob{
		{JobType: jobtype.ImageGen, Retention: 24 * time.Hour, Spec: "* * * * *"},
		{JobType: jobtype.AudioGen, Retention: time.Hour, Spec: "59 23 * * *"},
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	s.runDue(context.Background(), time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))

	if len(store.pruned) != 1 {
		t.Fatalf("expected exactly one prune call, got %v", store.pruned)
	}
	if store.pruned[0] != jobtype.BucketForJobType(jobtype.ImageGen) {
		t.Fatalf("expected imagegen bucket pruned, got %s", store.pruned[0])
	}
}
