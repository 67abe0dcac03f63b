package mailer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/osteele/liquid"
)

// Renderer renders Liquid templates, caching parsed templates by key.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // key -> *liquid.Template
}

func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// {{ first_name | default: "there" }}
	engine.RegisterFilter("default", func(value any, fallback string) any {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprint(value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})
	// {{ valid | percent_of: total }}
	engine.RegisterFilter("percent_of", func(n, total int) string {
		if total <= 0 {
			return "0%"
		}
		return fmt.Sprintf("%.1f%%", float64(n)*100/float64(total))
	})

	return &Renderer{engine: engine}
}

// Render parses src (or reuses the template cached under key) and renders it.
// An empty key disables caching.
func (r *Renderer) Render(key, src string, vars map[string]any) (string, error) {
	var tpl *liquid.Template
	if key != "" {
		if cached, ok := r.cache.Load(key); ok {
			tpl = cached.(*liquid.Template)
		}
	}
	if tpl == nil {
		parsed, err := r.engine.ParseString(src)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		tpl = parsed
		if key != "" {
			r.cache.Store(key, tpl)
		}
	}

	out, err := tpl.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// Report summarises a finished bulk verification job.
type Report struct {
	JobID         string
	Status        string
	Total         int
	Valid         int
	Invalid       int
	InvalidEmails []string
	Error         string
	StartedAt     time.Time
	CompletedAt   time.Time
}

const reportSubject = `SMTP verification {{ status }}: {{ valid }}/{{ total }} valid`

const reportText = `Bulk SMTP verification job {{ job_id }} {{ status }}.

Total:   {{ total }}
Valid:   {{ valid }} ({{ valid | percent_of: total }})
Invalid: {{ invalid }} ({{ invalid | percent_of: total }})
Started: {{ started_at | default: "-" }}
Ended:   {{ completed_at }}
{% if error != "" %}
Error: {{ error }}
{% endif %}{% if invalid_emails.size > 0 %}
Invalid addresses:
{% for e in invalid_emails %}  {{ e }}
{% endfor %}{% endif %}`

const reportHTML = `<h2>Bulk SMTP verification {{ status }}</h2>
<p>Job <code>{{ job_id }}</code></p>
<table>
<tr><td>Total</td><td>{{ total }}</td></tr>
<tr><td>Valid</td><td>{{ valid }} ({{ valid | percent_of: total }})</td></tr>
<tr><td>Invalid</td><td>{{ invalid }} ({{ invalid | percent_of: total }})</td></tr>
<tr><td>Started</td><td>{{ started_at | default: "-" }}</td></tr>
<tr><td>Ended</td><td>{{ completed_at }}</td></tr>
</table>
{% if error != "" %}<p style="color:#b00">Error: {{ error | escape }}</p>{% endif %}
{% if invalid_emails.size > 0 %}<h3>Invalid addresses</h3><ul>{% for e in invalid_emails %}<li>{{ e | escape }}</li>{% endfor %}</ul>{% endif %}`

// VerificationReport renders the admin report for a bulk job.
func (r *Renderer) VerificationReport(rep Report, to string) (Message, error) {
	vars := map[string]any{
		"job_id":         rep.JobID,
		"status":         rep.Status,
		"total":          rep.Total,
		"valid":          rep.Valid,
		"invalid":        rep.Invalid,
		"invalid_emails": rep.InvalidEmails,
		"error":          rep.Error,
		"started_at":     formatTime(rep.StartedAt),
		"completed_at":   formatTime(rep.CompletedAt),
	}

	subject, err := r.Render("report.subject", reportSubject, vars)
	if err != nil {
		return Message{}, err
	}
	text, err := r.Render("report.text", reportText, vars)
	if err != nil {
		return Message{}, err
	}
	html, err := r.Render("report.html", reportHTML, vars)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: strings.TrimSpace(subject), Text: text, HTML: html}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC1123)
}
