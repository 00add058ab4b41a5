package explain

import (
	"strconv"
	"strings"
	"time"

	sensors "greenthread/internal/sensors/domain"
)

const contextInstruction = "When analyzing sensors, always include the AI_DATA annotation to trigger UI highlighting."

// SystemPrompt renders the analyst instructions. Thresholds come from the
// registry so the prompt and the status evaluator agree.
func SystemPrompt(registry *sensors.Registry) string {
	var b strings.Builder
	b.WriteString("You are an expert wastewater monitoring analyst for a textile manufacturing facility called GreenThread. ")
	b.WriteString("Your role is to analyze sensor data and provide clear, actionable explanations.\n\n")

	b.WriteString("## Compliance Thresholds\n")
	for _, cfg := range registry.Configs() {
		b.WriteString("- ")
		b.WriteString(cfg.Name)
		b.WriteString(": ")
		b.WriteString(withUnit(sensors.FormatThresholdLabel(cfg.Threshold), cfg.Unit))
		b.WriteString("\n")
	}

	b.WriteString("\n## Your Tasks\n")
	b.WriteString("1. Analyze current sensor readings against compliance thresholds\n")
	b.WriteString("2. Compare with historical averages provided in the context\n")
	b.WriteString("3. Identify potential causes for anomalies\n")
	b.WriteString("4. Provide actionable recommendations\n\n")

	b.WriteString("## Response Format\n")
	b.WriteString("When discussing a specific sensor, ALWAYS emit a data annotation using this exact format on its own line:\n")
	b.WriteString(`<!--AI_DATA:{"activeSensorId":"sensorType","severity":"normal|warning|critical","actionRequired":true|false}-->`)
	b.WriteString("\n\nWhere sensorType is one of: ")
	ids := make([]string, 0, registry.Len())
	for _, t := range registry.Types() {
		ids = append(ids, string(t))
	}
	b.WriteString(strings.Join(ids, ", "))
	b.WriteString("\n\nSeverity levels:\n")
	b.WriteString("- normal: Within compliance thresholds\n")
	b.WriteString("- warning: Approaching threshold limits (within 10%)\n")
	b.WriteString("- critical: Exceeding compliance thresholds\n\n")
	b.WriteString(`Be concise but thorough. Focus on the "why" behind anomalies and what actions should be taken.`)
	return b.String()
}

// BuildContext renders the live readings block. latest is aligned with
// registry.Configs(); averages may be nil.
func BuildContext(registry *sensors.Registry, latest []*sensors.Reading, averages map[sensors.SensorType]sensors.Average, now time.Time) string {
	lines := make([]string, 0, registry.Len())
	for i, cfg := range registry.Configs() {
		if i >= len(latest) || latest[i] == nil {
			continue
		}
		reading := latest[i]
		status := sensors.CalculateStatus(reading.Value, cfg.Threshold)
		line := "- " + cfg.Name + " (" + string(cfg.ID) + "): " +
			withUnit(formatNumber(reading.Value), cfg.Unit) + " [" + string(status) + "]"
		if avg, ok := averages[cfg.ID]; ok && avg.Count > 0 {
			line += " | 7-day avg: " + withUnit(formatNumber(avg.Average), cfg.Unit) +
				" (" + strconv.Itoa(avg.Count) + " readings)"
		}
		lines = append(lines, line)
	}

	body := strings.Join(lines, "\n")
	if body == "" {
		body = "No recent data available"
	}
	return "Current sensor readings as of " + now.UTC().Format(time.RFC3339) + ":\n" + body + "\n\n" + contextInstruction
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func withUnit(value, unit string) string {
	if unit == "" {
		return value
	}
	return value + " " + unit
}
