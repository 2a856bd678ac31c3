package checkin

import (
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

func statusIcon(status string) string {
	switch status {
	case StatusSuccess:
		return "✅"
	case StatusSkipped:
		return "⏭️"
	default:
		return "❌"
	}
}

// WriteTable renders the run as a console table.
func (s Summary) WriteTable(out io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"", "Platform", "Account", "Status", "Message"})
	for _, r := range s.Results {
		t.AppendRow(table.Row{statusIcon(r.Status), r.Platform, r.Account, r.Status, r.Message})
	}
	t.AppendFooter(table.Row{"", "", "", "",
		fmt.Sprintf("%d ok / %d failed / %d skipped", s.Successes(), s.Failures(), s.Skipped())})
	t.Render()
}

// RenderText renders the plain-text report body.
func (s Summary) RenderText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Check-in run %s\n", s.RunId)
	fmt.Fprintf(&b, "Started: %s, took %s\n\n",
		s.Started.Format("2006-01-02 15:04:05"), s.Finished.Sub(s.Started).Round(time.Second))

	for _, r := range s.Results {
		fmt.Fprintf(&b, "%s [%s] %s: %s\n", statusIcon(r.Status), r.Platform, r.Account, r.Message)
		if change, ok := s.Changed[r.Account]; ok {
			fmt.Fprintf(&b, "   status changed since last run: %s\n", change)
		}
	}

	fmt.Fprintf(&b, "\nTotal: %d ok, %d failed, %d skipped\n",
		s.Successes(), s.Failures(), s.Skipped())
	return b.String()
}

// RenderHtml renders the report body for email delivery.
func (s Summary) RenderHtml() string {
	var b strings.Builder
	b.WriteString("<h2>Check-in report</h2>")
	fmt.Fprintf(&b, "<p>Run <code>%s</code>, started %s.</p>",
		html.EscapeString(s.RunId), s.Started.Format("2006-01-02 15:04:05"))

	b.WriteString("<table border=\"1\" cellpadding=\"4\" cellspacing=\"0\">")
	b.WriteString("<tr><th></th><th>Platform</th><th>Account</th><th>Status</th><th>Message</th></tr>")
	for _, r := range s.Results {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>",
			statusIcon(r.Status),
			html.EscapeString(r.Platform),
			html.EscapeString(r.Account),
			html.EscapeString(r.Status),
			html.EscapeString(r.Message),
		)
	}
	b.WriteString("</table>")

	if len(s.Changed) > 0 {
		b.WriteString("<h3>Status changes</h3><ul>")
		for account, change := range s.Changed {
			fmt.Fprintf(&b, "<li>%s: %s</li>",
				html.EscapeString(account), html.EscapeString(change))
		}
		b.WriteString("</ul>")
	}

	fmt.Fprintf(&b, "<p><b>Total:</b> %d ok, %d failed, %d skipped</p>",
		s.Successes(), s.Failures(), s.Skipped())
	return b.String()
}
