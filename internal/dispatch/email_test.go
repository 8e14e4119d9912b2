package dispatch

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"openflow/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

func TestEmail_MissingConfig(t *testing.T) {
	e := NewEmail(time.Second)

	for _, s := range []Settings{{}, {"smtp_host": "smtp.example.com"}, {"to": "a@example.com"}} {
		err := e.Deliver(context.Background(), s, envelope())
		var cerr *ConfigError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "SMTP host and recipient are required", err.Error())
	}
}

func TestEmail_ComposesMessage(t *testing.T) {
	var (
		dialer *gomail.Dialer
		raw    bytes.Buffer
	)
	e := NewEmail(time.Second).WithSender(func(d *gomail.Dialer, m *gomail.Message) error {
		dialer = d
		_, err := m.WriteTo(&raw)
		return err
	})

	err := e.Deliver(context.Background(), Settings{
		"smtp_host":   "smtp.example.com",
		"smtp_user":   "bot@example.com",
		"smtp_pass":   "pw",
		"smtp_secure": true,
		"to":          "a@example.com, b@example.com",
	}, envelope())
	require.NoError(t, err)

	require.NotNil(t, dialer)
	assert.Equal(t, 587, dialer.Port)
	assert.True(t, dialer.SSL)
	assert.Equal(t, "bot@example.com", dialer.Username)

	msg := raw.String()
	assert.Contains(t, msg, "Subject: New submission: Lead form")
	assert.Contains(t, msg, `"OpenFlow" <bot@example.com>`)
	assert.Contains(t, msg, "a@example.com")
	assert.Contains(t, msg, "b@example.com")
	assert.Contains(t, msg, "text/plain")
	assert.Contains(t, msg, "text/html")
}

func TestEmail_CustomFromAndSubject(t *testing.T) {
	var raw bytes.Buffer
	e := NewEmail(time.Second).WithSender(func(d *gomail.Dialer, m *gomail.Message) error {
		_, err := m.WriteTo(&raw)
		return err
	})

	err := e.Deliver(context.Background(), Settings{
		"smtp_host": "smtp.example.com",
		"to":        "a@example.com",
		"from":      "leads@example.com",
		"subject":   "Fresh lead",
	}, envelope())
	require.NoError(t, err)
	assert.Contains(t, raw.String(), "From: leads@example.com")
	assert.Contains(t, raw.String(), "Subject: Fresh lead")
}

func TestEmail_SendFailure(t *testing.T) {
	e := NewEmail(time.Second).WithSender(func(*gomail.Dialer, *gomail.Message) error {
		return errors.New("535 authentication failed")
	})

	err := e.Deliver(context.Background(), Settings{"smtp_host": "smtp.example.com", "to": "a@example.com"}, envelope())
	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, err.Error(), "535 authentication failed")
}

func TestEmail_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	e := NewEmail(20 * time.Millisecond).WithSender(func(*gomail.Dialer, *gomail.Message) error {
		<-release
		return nil
	})

	err := e.Deliver(context.Background(), Settings{"smtp_host": "smtp.example.com", "to": "a@example.com"}, envelope())
	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.True(t, derr.Timeout)
}

func TestRenderEmail(t *testing.T) {
	env := envelope()
	env.FormTitle = "Leads <2024>"
	env.Steps = append(env.Steps,
		model.Step{ID: "services", Type: model.StepMultiSelect, Label: "Services"},
		model.Step{ID: "missing", Type: model.StepText, Label: "Missing"},
	)
	env.Data = map[string]interface{}{
		"name":     "<b>Ada</b>",
		"email":    "ada@example.com",
		"services": []interface{}{"SEO", "Ads"},
	}

	out, err := RenderEmail(env)
	require.NoError(t, err)

	assert.Contains(t, out, "New Submission: Leads &lt;2024&gt;")
	assert.Contains(t, out, "&lt;b&gt;Ada&lt;/b&gt;")
	assert.Contains(t, out, "Your email?")
	assert.Contains(t, out, "[&#34;SEO&#34;,&#34;Ads&#34;]")
	assert.Contains(t, out, ">-</td>")

	text := plainText(out)
	assert.NotContains(t, text, "<td")
	assert.Contains(t, text, "Name: <b>Ada</b>")
	assert.Contains(t, text, `Services: ["SEO","Ads"]`)

	row := DataRow(env)
	assert.Equal(t, `["SEO","Ads"]`, row[3])
}
