package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{DefaultSchedule, false},
		{"*/5 * * * *", false},
		{"@weekly", false},
		{"0 3 * *", true},
		{"61 * * * *", true},
		{"", true},
	}

	for _, tt := range tests {
		err := Validate(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%q) err = %v, wantErr %v", tt.spec, err, tt.wantErr)
		}
	}
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	if _, err := New("sweep", "not a schedule", nil, func(context.Context) error { return nil }); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestNextIsSundayMorning(t *testing.T) {
	s, err := New("sweep", DefaultSchedule, time.UTC, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	s.Start()
	defer s.Stop()

	next := s.Next()
	if next.Weekday() != time.Sunday || next.Hour() != 3 || next.Minute() != 0 {
		t.Errorf("Next() = %v, want Sunday 03:00", next)
	}
}

func TestRunNow(t *testing.T) {
	var runs atomic.Int32
	s, err := New("sweep", DefaultSchedule, nil, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
}

func TestRunNowReturnsJobError(t *testing.T) {
	boom := errors.New("boom")
	s, _ := New("sweep", DefaultSchedule, nil, func(context.Context) error { return boom })

	if err := s.RunNow(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestRunNowSkipsOverlap(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s, _ := New("sweep", DefaultSchedule, nil, func(context.Context) error {
		close(started)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background()) }()
	<-started

	if err := s.RunNow(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("err = %v, want ErrAlreadyRunning", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("first run err = %v", err)
	}
}

func TestStopCancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	s, _ := New("sweep", DefaultSchedule, nil, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	s.Start()

	done := make(chan error, 1)
	go func() { done <- s.RunNow(s.ctx) }()
	<-started

	s.Stop()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop")
	}
}
