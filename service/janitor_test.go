package service

import (
	"context"
	"testing"
	"time"
)

type fakePurger struct {
	cutoffs []time.Time
	n       int
}

func (f *fakePurger) PurgeArchived(_ context.Context, cutoff time.Time) (int, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.n, nil
}

func TestJanitorSweepUsesRetentionCutoff(t *testing.T) {
	purger := &fakePurger{n: 2}
	j := NewJanitor(purger, 24*time.Hour, time.Minute, nil)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	n, err := j.Sweep(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
	if want := now.Add(-24 * time.Hour); !purger.cutoffs[0].Equal(want) {
		t.Fatalf("cutoff = %v, want %v", purger.cutoffs[0], want)
	}
}

func TestJanitorRunStopsOnCancel(t *testing.T) {
	j := NewJanitor(&fakePurger{}, time.Hour, time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
