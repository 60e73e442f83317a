package handler

import (
	"context"
	"fmt"
	"time"
)

// TimeInfo answers time and date queries deterministically from the local
// clock. No upstream, no cache.
type TimeInfo struct {
	loc *time.Location
	now func() time.Time // test hook
}

// NewTimeInfo creates a TimeInfo handler in the given location; nil means
// the process-local zone.
func NewTimeInfo(loc *time.Location) *TimeInfo {
	if loc == nil {
		loc = time.Local
	}
	return &TimeInfo{loc: loc, now: time.Now}
}

func (h *TimeInfo) Name() string { return "time" }

func (h *TimeInfo) Handle(_ context.Context, in Input) (Result, error) {
	now := h.now().In(h.loc)
	switch in.Intent.Kind {
	case "time.date":
		return Result{
			Answer: fmt.Sprintf("Today is %s, %s %d.", now.Weekday(), now.Month(), now.Day()),
			Source: "time",
		}, nil
	default:
		return Result{
			Answer: "It's " + now.Format("3:04 PM") + ".",
			Source: "time",
		}, nil
	}
}
