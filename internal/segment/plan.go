// Package segment plans and produces the vertical story clips cut from a source
// video.
package segment

import "math"

// Planner defaults.
const (
	DefaultMaxDuration       = 60.0
	DefaultMinDuration       = 3.0
	DefaultMaxBytes    int64 = 100 << 20
)

// Window is one entry of a segment plan.
type Window struct {
	// Index is the 1-based position of the window in the plan.
	Index    int
	Start    float64
	Duration float64
	// ForceLowerBitrate is set once the window has been re-encoded at the
	// reduced tier.
	ForceLowerBitrate bool
}

// End returns the exclusive end offset of the window.
func (w Window) End() float64 {
	return w.Start + w.Duration
}

// PlanOpts configures the planner. Zero fields take the package defaults.
type PlanOpts struct {
	MaxDuration float64
	MinDuration float64
	MaxBytes    int64
}

// DefaultPlanOpts returns 60s windows, a 3s minimum and a 100 MB budget.
func DefaultPlanOpts() PlanOpts {
	return PlanOpts{
		MaxDuration: DefaultMaxDuration,
		MinDuration: DefaultMinDuration,
		MaxBytes:    DefaultMaxBytes,
	}
}

func (o PlanOpts) withDefaults() PlanOpts {
	if o.MaxDuration <= 0 {
		o.MaxDuration = DefaultMaxDuration
	}
	if o.MinDuration <= 0 {
		o.MinDuration = DefaultMinDuration
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	return o
}

// NeedsReducedTier reports whether a transcoded window of outputBytes must be
// re-encoded at the reduced bitrate tier.
func (o PlanOpts) NeedsReducedTier(outputBytes int64) bool {
	return outputBytes > o.withDefaults().MaxBytes
}

// Plan splits totalDuration seconds into windows of at most MaxDuration.
// A source that already fits both budgets yields one window spanning it.
// A tail shorter than MinDuration is dropped, never merged into the previous
// window. Plan is a pure function of its inputs.
func Plan(totalDuration float64, sourceBytes int64, opts PlanOpts) []Window {
	opts = opts.withDefaults()

	if math.IsNaN(totalDuration) || math.IsInf(totalDuration, 0) || totalDuration < opts.MinDuration {
		return nil
	}

	if totalDuration <= opts.MaxDuration && sourceBytes <= opts.MaxBytes {
		return []Window{{Index: 1, Start: 0, Duration: totalDuration}}
	}

	count := int(math.Ceil(totalDuration / opts.MaxDuration))
	windows := make([]Window, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i) * opts.MaxDuration
		duration := math.Min(opts.MaxDuration, totalDuration-start)
		if duration < opts.MinDuration {
			continue
		}
		windows = append(windows, Window{
			Index:    len(windows) + 1,
			Start:    start,
			Duration: duration,
		})
	}

	return windows
}
