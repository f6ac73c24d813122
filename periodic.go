package eventcore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronFields is the parsed form of a 5-field cron expression.
type cronFields struct {
	minute     []int
	hour       []int
	dayOfMonth []int
	month      []int
	dayOfWeek  []int
}

func parseCron(schedule string) (cronFields, error) {
	parts := strings.Fields(schedule)
	if len(parts) != 5 {
		return cronFields{}, fmt.Errorf("eventcore: invalid cron: expected 5 fields, got %d", len(parts))
	}

	minute, err := parseCronField(parts[0], 0, 59)
	if err != nil {
		return cronFields{}, err
	}
	hour, err := parseCronField(parts[1], 0, 23)
	if err != nil {
		return cronFields{}, err
	}
	dayOfMonth, err := parseCronField(parts[2], 1, 31)
	if err != nil {
		return cronFields{}, err
	}
	month, err := parseCronField(parts[3], 1, 12)
	if err != nil {
		return cronFields{}, err
	}
	dayOfWeek, err := parseCronField(parts[4], 0, 6)
	if err != nil {
		return cronFields{}, err
	}

	return cronFields{
		minute:     minute,
		hour:       hour,
		dayOfMonth: dayOfMonth,
		month:      month,
		dayOfWeek:  dayOfWeek,
	}, nil
}

func parseCronField(field string, min, max int) ([]int, error) {
	values := make(map[int]bool)

	for _, part := range strings.Split(field, ",") {
		switch {
		case part == "*":
			for i := min; i <= max; i++ {
				values[i] = true
			}
		case strings.Contains(part, "/"):
			split := strings.Split(part, "/")
			step, err := strconv.Atoi(split[1])
			if err != nil || step <= 0 {
				return nil, fmt.Errorf("eventcore: invalid step: %s", part)
			}
			start, end := min, max
			if split[0] != "*" {
				if strings.Contains(split[0], "-") {
					rangeParts := strings.Split(split[0], "-")
					start, _ = strconv.Atoi(rangeParts[0])
					end, _ = strconv.Atoi(rangeParts[1])
				} else {
					start, _ = strconv.Atoi(split[0])
				}
			}
			for i := start; i <= end; i += step {
				values[i] = true
			}
		case strings.Contains(part, "-"):
			rangeParts := strings.Split(part, "-")
			start, _ := strconv.Atoi(rangeParts[0])
			end, _ := strconv.Atoi(rangeParts[1])
			for i := start; i <= end; i++ {
				values[i] = true
			}
		default:
			val, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("eventcore: invalid value: %s", part)
			}
			values[val] = true
		}
	}

	result := make([]int, 0, len(values))
	for v := range values {
		if v < min || v > max {
			return nil, fmt.Errorf("eventcore: value %d out of range [%d-%d]", v, min, max)
		}
		result = append(result, v)
	}
	return result, nil
}

func (f cronFields) matches(t time.Time) bool {
	return containsInt(f.minute, t.Minute()) &&
		containsInt(f.hour, t.Hour()) &&
		containsInt(f.dayOfMonth, t.Day()) &&
		containsInt(f.month, int(t.Month())) &&
		containsInt(f.dayOfWeek, int(t.Weekday()))
}

func containsInt(slice []int, val int) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

// nextRun brute-forces the first minute-aligned instant after `after`
// that satisfies f, scanning at most a year ahead.
func (f cronFields) nextRun(after time.Time) time.Time {
	next := after.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < 525600; i++ {
		if f.matches(next) {
			return next
		}
		next = next.Add(time.Minute)
	}
	return time.Time{}
}

// PeriodicSchedule binds a cron expression to the anycast event it should
// produce when due. factory builds a fresh Event each time the schedule
// fires, so call sites can close over any state they need (e.g. a
// monotonically increasing sequence number).
type PeriodicSchedule struct {
	Cron    string
	Name    string
	Factory func() Event

	fields  cronFields
	lastRun time.Time
}

// NewPeriodicSchedule parses cron and binds it to factory under name,
// which appears in the producer's log lines.
func NewPeriodicSchedule(cron, name string, factory func() Event) (*PeriodicSchedule, error) {
	fields, err := parseCron(cron)
	if err != nil {
		return nil, err
	}
	return &PeriodicSchedule{Cron: cron, Name: name, Factory: factory, fields: fields}, nil
}

// PeriodicEventProducer runs a set of cron schedules and produces their
// events through an EventProducer when due, replacing opaque
// stream-enqueued tasks with typed anycast events (e.g. DoScheduleEvent,
// DoIdleCheckEvent) that any consumer-group worker can pick up.
type PeriodicEventProducer struct {
	producer  *EventProducer
	schedules []*PeriodicSchedule
	logger    *Logger
}

// NewPeriodicEventProducer builds a producer loop over the given
// schedules, emitting through producer when due.
func NewPeriodicEventProducer(producer *EventProducer, schedules ...*PeriodicSchedule) *PeriodicEventProducer {
	return &PeriodicEventProducer{
		producer:  producer,
		schedules: schedules,
		logger:    NewLogger("periodic"),
	}
}

// Run sleeps until the next due schedule, produces its event, and
// repeats until ctx is cancelled.
func (p *PeriodicEventProducer) Run(ctx context.Context) error {
	if len(p.schedules) == 0 {
		return nil
	}
	p.logger.Info("starting periodic event producer", "schedules", len(p.schedules))

	var due []*PeriodicSchedule
	for {
		now := time.Now()
		for _, s := range due {
			if err := p.producer.Produce(ctx, s.Factory()); err != nil {
				p.logger.Error("produce periodic event", "schedule", s.Name, "error", err)
			}
			s.lastRun = now
		}

		minDelay := 24 * time.Hour
		due = nil
		for _, s := range p.schedules {
			next := s.fields.nextRun(now)
			delay := next.Sub(now)
			switch {
			case delay < minDelay:
				minDelay = delay
				due = []*PeriodicSchedule{s}
			case delay == minDelay:
				due = append(due, s)
			}
		}

		p.logger.Debug("sleeping until next schedule", "delay", minDelay)
		select {
		case <-time.After(minDelay):
		case <-ctx.Done():
			return nil
		}
	}
}
