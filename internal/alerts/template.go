package alerts

import (
	"bytes"
	"text/template"

	"github.com/cockroachdb/errors"
)

const DefaultTemplate = `[GreenThread compliance alert]
Sensor: {{.Sensor}} ({{.SensorID}})
Reading: {{.Value}}{{ if .Unit }} {{.Unit}}{{ end }}
Limit: {{.Threshold}}
Recorded At: {{.RecordedAt}}
Suggestion: {{.Suggestion}}
{{ if .DashboardURL }}
Dashboard: {{.DashboardURL}}
{{ end }}`

// TemplateData provides fields for rendering alert content.
type TemplateData struct {
	Sensor       string
	SensorID     string
	Value        string
	Unit         string
	Threshold    string
	RecordedAt   string
	Suggestion   string
	DashboardURL string
}

// Template renders alert content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses an alert template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("violation-alert").Parse(tpl)
	if err != nil {
		return nil, errors.Wrap(err, "alert template: parse")
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "alert template: render")
	}
	return buf.String(), nil
}
