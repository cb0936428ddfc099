package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidTrigger = errors.New("invalid trigger")

// Trigger computes the next fire instant strictly after a given time.
type Trigger interface {
	Next(after time.Time) time.Time
	String() string
}

// CronTrigger is a standard five-field cron expression evaluated in UTC.
type CronTrigger struct {
	expr  string
	sched cron.Schedule
}

func NewCronTrigger(expr string) (*CronTrigger, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTrigger, expr, err)
	}
	return &CronTrigger{expr: expr, sched: sched}, nil
}

func (c *CronTrigger) Next(after time.Time) time.Time { return c.sched.Next(after.UTC()) }

func (c *CronTrigger) String() string { return c.expr }

// IntervalTrigger fires every fixed duration after the previous fire.
type IntervalTrigger struct {
	Every time.Duration
}

func (i IntervalTrigger) Next(after time.Time) time.Time { return after.UTC().Add(i.Every) }

func (i IntervalTrigger) String() string { return "@every " + i.Every.String() }

// ParseTrigger accepts "@every <duration>" or anything cron.ParseStandard does.
func ParseTrigger(spec string) (Trigger, error) {
	spec = strings.TrimSpace(spec)
	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTrigger, spec)
		}
		return IntervalTrigger{Every: d}, nil
	}
	return NewCronTrigger(spec)
}

