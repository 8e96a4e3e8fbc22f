package linkcheck

import (
	"context"
	"log/slog"
	"time"

	"github.com/docutag/linkmeta/models"
)

// LinkChecker checks one URL
type LinkChecker interface {
	Check(ctx context.Context, rawURL string) models.LinkCheckResult
}

// Target is a stored link to check
type Target struct {
	ID  string
	URL string
}

// Summary counts sweep results by status
type Summary struct {
	Checked    int `json:"checked"`
	OK         int `json:"ok"`
	Broken     int `json:"broken"`
	Redirected int `json:"redirected"`
	Errors     int `json:"errors"`
}

func (s *Summary) add(status models.LinkStatus) {
	s.Checked++
	switch status {
	case models.LinkOK:
		s.OK++
	case models.LinkBroken:
		s.Broken++
	case models.LinkRedirected:
		s.Redirected++
	default:
		s.Errors++
	}
}

// Sweeper checks many links one at a time with a fixed pause between
// requests. Sweeps revisit the same few origins, so they never run checks
// in parallel.
type Sweeper struct {
	checker LinkChecker
	delay   time.Duration
}

// NewSweeper creates a Sweeper. A non-positive delay uses the default.
func NewSweeper(checker LinkChecker, delay time.Duration) *Sweeper {
	if delay <= 0 {
		delay = DefaultConfig().SweepDelay
	}
	return &Sweeper{checker: checker, delay: delay}
}

// Sweep checks every target in order and hands each result to report. It
// stops early and returns ctx.Err() when the context is cancelled; the
// summary covers the targets checked so far.
func (s *Sweeper) Sweep(ctx context.Context, targets []Target, report func(Target, models.LinkCheckResult)) (Summary, error) {
	var summary Summary
	start := time.Now()

	for i, target := range targets {
		if i > 0 {
			timer := time.NewTimer(s.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return summary, ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result := s.checker.Check(ctx, target.URL)
		summary.add(result.Status)
		if report != nil {
			report(target, result)
		}
	}

	slog.Info("link sweep finished",
		"checked", summary.Checked,
		"ok", summary.OK,
		"broken", summary.Broken,
		"redirected", summary.Redirected,
		"errors", summary.Errors,
		"duration", time.Since(start))
	return summary, nil
}
