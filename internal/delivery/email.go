package delivery

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	texttemplate "text/template"

	"polibrief/internal/core"
)

// EmailConfig holds SMTP delivery settings
type EmailConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	To            []string
	SubjectPrefix string
}

// EmailTemplate represents an HTML email template configuration
type EmailTemplate struct {
	Subject         string
	HeaderColor     string
	BackgroundColor string
	TextColor       string
	LinkColor       string
	BorderColor     string
	MaxWidth        string
	FontFamily      string
}

// DefaultEmailTemplate returns a responsive HTML email template
func DefaultEmailTemplate() *EmailTemplate {
	return &EmailTemplate{
		Subject:         "{{.Prefix}}{{.Title}} - {{.Date}}",
		HeaderColor:     "#1e3a8a", // Blue-900
		BackgroundColor: "#f8fafc", // Slate-50
		TextColor:       "#1e293b", // Slate-800
		LinkColor:       "#2563eb", // Blue-600
		BorderColor:     "#e2e8f0", // Slate-200
		MaxWidth:        "640px",
		FontFamily:      "system-ui, -apple-system, 'Segoe UI', Roboto, sans-serif",
	}
}

// SendFunc sends a raw message; smtp.SendMail in production.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailDeliverer sends the HTML rendering of a digest over SMTP.
type EmailDeliverer struct {
	cfg      EmailConfig
	title    string
	template *EmailTemplate
	send     SendFunc
}

// NewEmailDeliverer creates an EmailDeliverer.
func NewEmailDeliverer(cfg EmailConfig, title string) (*EmailDeliverer, error) {
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("email delivery needs a sender and at least one recipient")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if title == "" {
		title = "Political Digest"
	}
	return &EmailDeliverer{
		cfg:      cfg,
		title:    title,
		template: DefaultEmailTemplate(),
		send:     smtp.SendMail,
	}, nil
}

// Name implements Deliverer.
func (e *EmailDeliverer) Name() string { return "email" }

// Deliver implements Deliverer. smtp.SendMail takes no context, so ctx is
// only checked before sending.
func (e *EmailDeliverer) Deliver(ctx context.Context, rec *core.DigestRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject, err := GenerateSubject(e.template, e.cfg.SubjectPrefix, e.title, rec.DigestDate)
	if err != nil {
		return err
	}
	body, err := RenderHTMLEmail(rec, e.title, e.template)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	if err := e.send(addr, auth, e.cfg.From, e.cfg.To, buildMessage(e.cfg.From, e.cfg.To, subject, body)); err != nil {
		return fmt.Errorf("send email via %s: %w", addr, err)
	}
	return nil
}

func buildMessage(from string, to []string, subject, htmlBody string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(htmlBody)
	return buf.Bytes()
}

// GenerateSubject generates the email subject using the template
func GenerateSubject(emailTemplate *EmailTemplate, prefix, title, date string) (string, error) {
	tmpl, err := texttemplate.New("subject").Parse(emailTemplate.Subject)
	if err != nil {
		return "", fmt.Errorf("failed to parse subject template: %w", err)
	}

	if prefix != "" && !strings.HasSuffix(prefix, " ") {
		prefix += " "
	}
	data := struct {
		Prefix string
		Title  string
		Date   string
	}{prefix, title, date}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute subject template: %w", err)
	}
	return buf.String(), nil
}

const emailLayout = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}} - {{.Date}}</title>
    <style type="text/css">{{.CSS}}</style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>{{.Title}}</h1>
            <p>{{.Date}}</p>
        </div>
        <div class="content">
            {{.Body}}
        </div>
        <div class="footer">
            {{.PoliticalItems}} political items from {{.ItemsConsidered}} captured between {{.WindowStart}} and {{.WindowEnd}}.
        </div>
    </div>
</body>
</html>
`

// getEmailCSS returns the stylesheet for the email template
func getEmailCSS(tmpl *EmailTemplate) string {
	return fmt.Sprintf(`
  body { margin: 0; padding: 0; background-color: %s; color: %s; font-family: %s; line-height: 1.6; }
  .container { max-width: %s; margin: 0 auto; background: #ffffff; border: 1px solid %s; }
  .header { background-color: %s; color: #ffffff; padding: 24px; }
  .header h1 { margin: 0; font-size: 22px; }
  .content { padding: 24px; }
  .content h1 { display: none; }
  .content h2 { border-bottom: 1px solid %s; padding-bottom: 4px; font-size: 18px; }
  a { color: %s; }
  .footer { padding: 16px 24px; font-size: 12px; color: #64748b; border-top: 1px solid %s; }
`, tmpl.BackgroundColor, tmpl.TextColor, tmpl.FontFamily, tmpl.MaxWidth, tmpl.BorderColor,
		tmpl.HeaderColor, tmpl.BorderColor, tmpl.LinkColor, tmpl.BorderColor)
}

var emailPage = template.Must(template.New("email").Parse(emailLayout))

// RenderHTMLEmail wraps the rendered digest in the email layout. The digest
// HTML is produced by the digest renderer and inserted unescaped.
func RenderHTMLEmail(rec *core.DigestRecord, title string, emailTemplate *EmailTemplate) (string, error) {
	data := struct {
		Title           string
		Date            string
		Body            template.HTML
		PoliticalItems  int
		ItemsConsidered int
		WindowStart     string
		WindowEnd       string
		CSS             template.CSS
	}{
		Title:           title,
		Date:            rec.DigestDate,
		Body:            template.HTML(rec.HTMLBody),
		PoliticalItems:  rec.PoliticalItemsCount,
		ItemsConsidered: rec.ItemsConsidered,
		WindowStart:     rec.WindowStart.UTC().Format("Jan 2 15:04 MST"),
		WindowEnd:       rec.WindowEnd.UTC().Format("Jan 2 15:04 MST"),
		CSS:             template.CSS(getEmailCSS(emailTemplate)),
	}

	var buf bytes.Buffer
	if err := emailPage.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render email: %w", err)
	}
	return buf.String(), nil
}
