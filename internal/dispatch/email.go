package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"html/template"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"gopkg.in/gomail.v2"
)

var textPolicy = bluemonday.StrictPolicy()

var emailTemplate = template.Must(template.New("submission").Parse(`<div style="font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,sans-serif;max-width:600px;margin:0 auto;">
<h2 style="color:#6C5CE7;">New Submission: {{.Title}}</h2>
<table style="width:100%;border-collapse:collapse;margin:20px 0;">
{{range .Rows}}<tr><td style="padding:8px 12px;border-bottom:1px solid #eee;font-weight:600;color:#555;">{{.Label}}</td><td style="padding:8px 12px;border-bottom:1px solid #eee;">{{.Value}}</td></tr>
{{end}}</table>
<p style="color:#999;font-size:12px;">Sent by OpenFlow</p>
</div>`))

type emailRow struct {
	Label string
	Value string
}

// SendFunc hands a composed message to an SMTP relay
type SendFunc func(d *gomail.Dialer, m *gomail.Message) error

func dialAndSend(d *gomail.Dialer, m *gomail.Message) error {
	return d.DialAndSend(m)
}

// Email renders the answers as an HTML table and mails it to config.to
type Email struct {
	timeout time.Duration
	send    SendFunc
}

func NewEmail(timeout time.Duration) *Email {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Email{timeout: timeout, send: dialAndSend}
}

// WithSender returns a copy of e that sends through fn.
func (e *Email) WithSender(fn SendFunc) *Email {
	cp := *e
	cp.send = fn
	return &cp
}

func (e *Email) Deliver(ctx context.Context, settings Settings, env Envelope) error {
	host := settings.String("smtp_host")
	to := settings.String("to")
	if host == "" || to == "" {
		return &ConfigError{Type: "email", Message: "SMTP host and recipient are required"}
	}

	user := settings.String("smtp_user")
	dialer := gomail.NewDialer(host, settings.IntOr("smtp_port", 587), user, settings.String("smtp_pass"))
	dialer.SSL = settings.Bool("smtp_secure")

	htmlBody, err := RenderEmail(env)
	if err != nil {
		return &DeliveryError{Target: "email", Message: fmt.Sprintf("failed to render email: %v", err), Err: err}
	}

	m := gomail.NewMessage()
	if from := settings.String("from"); from != "" {
		m.SetHeader("From", from)
	} else {
		sender := user
		if sender == "" {
			sender = "noreply@openflow.local"
		}
		m.SetAddressHeader("From", sender, "OpenFlow")
	}
	m.SetHeader("To", splitRecipients(to)...)
	m.SetHeader("Subject", settings.StringOr("subject", "New submission: "+env.FormTitle))
	m.SetBody("text/plain", plainText(htmlBody))
	m.AddAlternative("text/html", htmlBody)

	// gomail has no context support; the send is abandoned, not aborted, on timeout.
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.send(dialer, m) }()

	select {
	case err := <-done:
		if err != nil {
			return transportError("email", err)
		}
		return nil
	case <-ctx.Done():
		return transportError("email", ctx.Err())
	}
}

// RenderEmail builds the HTML notification body, one row per step.
func RenderEmail(env Envelope) (string, error) {
	rows := make([]emailRow, 0, len(env.Steps))
	for _, st := range env.Steps {
		rows = append(rows, emailRow{Label: st.DisplayLabel(), Value: displayValue(env.Data[st.ID])})
	}

	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, struct {
		Title string
		Rows  []emailRow
	}{Title: env.FormTitle, Rows: rows})
	return buf.String(), err
}

// displayValue renders an answer for the email table, matching the
// spreadsheet cell so both targets show the same text.
func displayValue(v interface{}) string {
	if v == nil {
		return "-"
	}
	return cellValue(v)
}

func plainText(htmlBody string) string {
	text := strings.ReplaceAll(htmlBody, "</td><td", "</td>: <td")
	text = strings.ReplaceAll(text, "</tr>", "</tr>\n")
	text = strings.ReplaceAll(text, "</h2>", "</h2>\n")
	text = textPolicy.Sanitize(text)
	return strings.TrimSpace(html.UnescapeString(text))
}

func splitRecipients(to string) []string {
	var out []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
