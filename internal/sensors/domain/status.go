package sensors

import "strconv"

// Status is the compliance state of a single value.
type Status string

const (
	StatusCompliant Status = "compliant"
	StatusViolation Status = "violation"
)

// CalculateStatus reports a violation when either configured bound is crossed.
func CalculateStatus(value float64, threshold Threshold) Status {
	if threshold.Min != nil && value < *threshold.Min {
		return StatusViolation
	}
	if threshold.Max != nil && value > *threshold.Max {
		return StatusViolation
	}
	return StatusCompliant
}

// FormatThresholdLabel renders a threshold for display, e.g. "6.5 - 8.5" or "≤ 50.0".
func FormatThresholdLabel(threshold Threshold) string {
	switch {
	case threshold.Min != nil && threshold.Max != nil:
		return formatBound(*threshold.Min) + " - " + formatBound(*threshold.Max)
	case threshold.Min != nil:
		return "≥ " + formatBound(*threshold.Min)
	case threshold.Max != nil:
		return "≤ " + formatBound(*threshold.Max)
	default:
		return "N/A"
	}
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
