package watcher

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a five field cron expression or a descriptor such
// as "@every 5m".
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return sched, nil
}

// Rescanner calls OnChange on a cron schedule, for search paths on file
// systems that do not deliver change events.
type Rescanner struct {
	cron     *cron.Cron
	expr     string
	onChange func()
	logger   zerolog.Logger
	stopOnce sync.Once
}

// NewRescanner creates a rescanner. Nothing runs until Start.
func NewRescanner(expr string, onChange func(), logger zerolog.Logger) (*Rescanner, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	r := &Rescanner{
		cron:     cron.New(cron.WithParser(scheduleParser)),
		expr:     expr,
		onChange: onChange,
		logger:   logger.With().Str("component", "plugin-rescanner").Logger(),
	}
	r.cron.Schedule(sched, cron.FuncJob(r.fire))
	return r, nil
}

func (r *Rescanner) fire() {
	r.logger.Debug().Str("schedule", r.expr).Msg("Scheduled rescan")
	if r.onChange != nil {
		r.onChange()
	}
}

// Next returns the time of the next scheduled rescan after t.
func (r *Rescanner) Next(t time.Time) time.Time {
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Schedule.Next(t)
}

// Start runs the schedule in its own goroutine.
func (r *Rescanner) Start() {
	r.cron.Start()
	r.logger.Info().Str("schedule", r.expr).Time("next", r.Next(time.Now())).Msg("Periodic rescan scheduled")
}

// Stop stops the schedule and waits for a running rescan notification.
func (r *Rescanner) Stop() {
	r.stopOnce.Do(func() {
		<-r.cron.Stop().Done()
	})
}
