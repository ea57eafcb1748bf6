// Package sched provides a once-a-day wall-clock timer, used for the
// configurable nightly shutdown.
package sched

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ParseDaily parses a "HH:MM" time of day.
func ParseDaily(s string) (hour int, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q out of range", s)
	}
	return hour, minute, nil
}

// Daily invokes Fn every day at the configured local time.
type Daily struct {
	Hour   int
	Minute int
	Fn     func()
	Logger *zap.Logger
}

// Run blocks until the context is cancelled, firing Fn at each daily mark.
func (d Daily) Run(ctx context.Context) error {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	for {
		next := nextAfter(time.Now(), d.Hour, d.Minute)
		log.Debug("daily job scheduled", zap.Time("at", next))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			d.Fn()
		}
	}
}

// nextAfter returns the first occurrence of hour:minute strictly after t.
func nextAfter(t time.Time, hour int, minute int) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
