package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/kuitang/scenario-suite/internal/obs"
	"github.com/kuitang/scenario-suite/internal/suite"
)

// Notifier sends one digest per finished run that had failures.
type Notifier struct {
	sender Sender
	to     []string
}

func NewNotifier(sender Sender, to []string) *Notifier {
	return &Notifier{sender: sender, to: to}
}

func (n *Notifier) Record(context.Context, *suite.Outcome) error { return nil }

func (n *Notifier) Finish(ctx context.Context, sum *suite.Summary) error {
	if sum.OK() || len(n.to) == 0 {
		return nil
	}
	msg, err := Digest(sum)
	if err != nil {
		return err
	}
	msg.To = n.to
	if err := n.sender.Send(ctx, msg); err != nil {
		return err
	}
	obs.From(ctx).Info("failure_digest_sent", "recipients", len(n.to), "failures", len(sum.Failures()))
	return nil
}

// Digest builds the failure email for a run.
func Digest(sum *suite.Summary) (Message, error) {
	passed, failed := sum.Counts()
	subject := fmt.Sprintf("[scenarios] %d of %d failed on %s (run %s)", failed, passed+failed, sum.Browser, shortID(sum.RunID))

	data := digestData{
		Subject:   subject,
		RunID:     sum.RunID,
		Started:   sum.StartedAt.UTC().Format(time.RFC3339),
		ReportURL: sum.ReportURL,
		Failures:  sum.Failures(),
	}
	var html bytes.Buffer
	if err := digestHTML.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render digest: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n\n", subject)
	for _, o := range data.Failures {
		fmt.Fprintf(&text, "- %s [%s] step %d: %s\n", o.Scenario, o.Code, o.FailedStep, o.Reason)
		if o.Flaky {
			fmt.Fprintf(&text, "  (previous run: %s)\n", o.PreviousStatus)
		}
	}
	if sum.ReportURL != "" {
		fmt.Fprintf(&text, "\nReport: %s\n", sum.ReportURL)
	}
	return Message{Subject: subject, HTML: html.String(), Text: text.String()}, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type digestData struct {
	Subject   string
	RunID     string
	Started   string
	ReportURL string
	Failures  []suite.Outcome
}

var digestHTML = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 640px; margin: 0 auto; padding: 20px;">
    <h2 style="margin-top: 0;">{{.Subject}}</h2>
    <p style="color: #666; font-size: 14px;">Run {{.RunID}} started {{.Started}}</p>
    <ul>
    {{- range .Failures}}
        <li><strong>{{.Scenario}}</strong> <code>{{.Code}}</code> at step {{.FailedStep}}: {{.Reason}}
        {{- if .Flaky}} <em>(flaky, previous run {{.PreviousStatus}})</em>{{end}}
        {{- range .Artifacts}} <a href="{{.}}">screenshot</a>{{end}}</li>
    {{- end}}
    </ul>
    {{- if .ReportURL}}
    <p><a href="{{.ReportURL}}">Full report</a></p>
    {{- end}}
</body>
</html>`))
