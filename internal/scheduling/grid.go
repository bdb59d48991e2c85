package scheduling

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is a daily bookable range expressed in minutes after local midnight.
// Both bounds are bookable slot starts.
type Window struct {
	StartMinute int
	EndMinute   int
}

func (w Window) String() string {
	return fmt.Sprintf("%s-%s", formatClock(w.StartMinute), formatClock(w.EndMinute))
}

// Grid describes the slot lattice: fixed granularity inside daily windows,
// evaluated in a single location.
type Grid struct {
	Granularity    time.Duration
	Windows        []Window
	Location       *time.Location
	EnforceWindows bool
}

// DefaultGrid is the clinic's standard lattice: 10-minute slots from
// 09:00 to 10:30 and from 17:00 to 18:30.
func DefaultGrid(loc *time.Location) Grid {
	if loc == nil {
		loc = time.UTC
	}
	return Grid{
		Granularity: 10 * time.Minute,
		Windows: []Window{
			{StartMinute: 9 * 60, EndMinute: 10*60 + 30},
			{StartMinute: 17 * 60, EndMinute: 18*60 + 30},
		},
		Location: loc,
	}
}

// ParseWindows reads "HH:MM-HH:MM" ranges separated by commas.
func ParseWindows(raw string) ([]Window, error) {
	var windows []Window
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bounds := strings.Split(part, "-")
		if len(bounds) != 2 {
			return nil, fmt.Errorf("scheduling: window %q must look like HH:MM-HH:MM", part)
		}
		start, err := parseClock(bounds[0])
		if err != nil {
			return nil, err
		}
		end, err := parseClock(bounds[1])
		if err != nil {
			return nil, err
		}
		if end < start {
			return nil, fmt.Errorf("scheduling: window %q ends before it starts", part)
		}
		windows = append(windows, Window{StartMinute: start, EndMinute: end})
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("scheduling: at least one window required")
	}
	return windows, nil
}

// Aligned reports whether t falls exactly on a lattice point.
func (g Grid) Aligned(t time.Time) bool {
	if g.Granularity <= 0 {
		return true
	}
	local := t.In(g.location())
	sinceMidnight := local.Sub(startOfDay(local))
	return sinceMidnight%g.Granularity == 0
}

// InWindows reports whether t starts inside one of the daily windows.
func (g Grid) InWindows(t time.Time) bool {
	local := t.In(g.location())
	minute := local.Hour()*60 + local.Minute()
	for _, w := range g.Windows {
		if minute >= w.StartMinute && minute <= w.EndMinute {
			return true
		}
	}
	return false
}

// Slots lists every lattice point of the calendar day containing day.
func (g Grid) Slots(day time.Time) []time.Time {
	midnight := startOfDay(day.In(g.location()))
	step := g.Granularity
	if step <= 0 {
		step = 10 * time.Minute
	}
	var out []time.Time
	for _, w := range g.Windows {
		end := midnight.Add(time.Duration(w.EndMinute) * time.Minute)
		for t := midnight.Add(time.Duration(w.StartMinute) * time.Minute); !t.After(end); t = t.Add(step) {
			out = append(out, t)
		}
	}
	return out
}

// DayBounds returns [start, end) of the calendar day containing day.
func (g Grid) DayBounds(day time.Time) (time.Time, time.Time) {
	start := startOfDay(day.In(g.location()))
	return start, start.AddDate(0, 0, 1)
}

func (g Grid) location() *time.Location {
	if g.Location == nil {
		return time.UTC
	}
	return g.Location
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func parseClock(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	hh, mm, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, fmt.Errorf("scheduling: clock %q must look like HH:MM", raw)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("scheduling: invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("scheduling: invalid minute in %q", raw)
	}
	return h*60 + m, nil
}

func formatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
