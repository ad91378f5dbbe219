package models

import (
	"fmt"
	"time"
)

// Windows holds the incident interval under investigation and the baseline
// interval immediately preceding it. Both intervals are closed-open on the
// end and never overlap.
type Windows struct {
	IncidentStart time.Time
	IncidentEnd   time.Time
	BaselineStart time.Time
	BaselineEnd   time.Time
	Anchor        time.Time
}

// WindowsEndingAt builds windows anchored at the given timestamp: the
// incident window covers the windowMinutes before the anchor and the baseline
// window the baselineMinutes before that. A zero anchor means "now"; a
// non-positive baselineMinutes reuses windowMinutes.
func WindowsEndingAt(anchor time.Time, windowMinutes, baselineMinutes int) Windows {
	if anchor.IsZero() {
		anchor = time.Now().UTC()
	}
	anchor = anchor.UTC()
	if windowMinutes <= 0 {
		windowMinutes = 60
	}
	if baselineMinutes <= 0 {
		baselineMinutes = windowMinutes
	}

	incidentEnd := anchor
	incidentStart := incidentEnd.Add(-time.Duration(windowMinutes) * time.Minute)
	baselineEnd := incidentStart
	baselineStart := baselineEnd.Add(-time.Duration(baselineMinutes) * time.Minute)

	return Windows{
		IncidentStart: incidentStart,
		IncidentEnd:   incidentEnd,
		BaselineStart: baselineStart,
		BaselineEnd:   baselineEnd,
		Anchor:        anchor,
	}
}

// WindowsBetween builds windows for an explicit incident range; the baseline
// is the same-length interval directly before it.
func WindowsBetween(start, end time.Time) (Windows, error) {
	start = start.UTC()
	end = end.UTC()
	if !end.After(start) {
		return Windows{}, fmt.Errorf("window end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	span := end.Sub(start)
	return Windows{
		IncidentStart: start,
		IncidentEnd:   end,
		BaselineStart: start.Add(-span),
		BaselineEnd:   start,
		Anchor:        end,
	}, nil
}

// ContainsIncident reports whether ts falls inside the incident window as
// used for correlation: start and end are both inclusive here, matching the
// window in effect when the context was created.
func (w Windows) ContainsIncident(ts time.Time) bool {
	ts = ts.UTC()
	return !ts.Before(w.IncidentStart) && !ts.After(w.IncidentEnd)
}
