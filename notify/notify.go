// Package notify delivers the one-time credentials of a freshly created
// WIMS class to its contact address.
package notify

import (
	"bufio"
	"bytes"
	"context"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/russross/blackfriday/v2"
	"github.com/russross/wimslti/wims"
	"gopkg.in/gomail.v2"
)

//go:embed templates/*.md
var templateFiles embed.FS

var templates = template.Must(template.ParseFS(templateFiles, "templates/*.md"))

// Credentials is everything a supervisor needs to reach a new class.
type Credentials struct {
	LmsName    string
	LmsURL     string
	ServerName string
	ServerURL  string
	Class      *wims.Class
	Supervisor *wims.User
}

// Sender delivers credentials. Callers treat failures as non-fatal.
type Sender interface {
	SendCredentials(ctx context.Context, c *Credentials) error
}

// Render fills the template for the class language, falling back to
// English, and splits off the subject line.
func Render(c *Credentials) (subject, body string, err error) {
	name := "en.md"
	if c.Class != nil && templates.Lookup(c.Class.Lang+".md") != nil {
		name = c.Class.Lang + ".md"
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, c); err != nil {
		return "", "", fmt.Errorf("rendering %s: %w", name, err)
	}

	scanner := bufio.NewScanner(&buf)
	if !scanner.Scan() || !strings.HasPrefix(scanner.Text(), "Subject: ") {
		return "", "", fmt.Errorf("template %s does not start with a Subject line", name)
	}
	subject = strings.TrimPrefix(scanner.Text(), "Subject: ")
	var rest strings.Builder
	for scanner.Scan() {
		rest.WriteString(scanner.Text())
		rest.WriteByte('\n')
	}
	return subject, rest.String(), scanner.Err()
}

// Mailer sends credentials over SMTP as markdown text with an HTML alternative.
type Mailer struct {
	Dialer *gomail.Dialer
	From   string
}

func NewMailer(host string, port int, username, password, from string) *Mailer {
	return &Mailer{
		Dialer: gomail.NewDialer(host, port, username, password),
		From:   from,
	}
}

// Message builds the email for c without sending it.
func (m *Mailer) Message(c *Credentials) (*gomail.Message, error) {
	if c.Class == nil || c.Class.Email == "" {
		return nil, fmt.Errorf("class has no contact email")
	}
	subject, body, err := Render(c)
	if err != nil {
		return nil, err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", c.Class.Email)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	msg.AddAlternative("text/html", toHTML(body))
	return msg, nil
}

// toHTML renders a message body for the HTML part. Raw HTML can only come
// from LMS-supplied values, so it is dropped.
func toHTML(body string) string {
	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.CommonHTMLFlags | blackfriday.SkipHTML,
	})
	return string(blackfriday.Run([]byte(body), blackfriday.WithRenderer(renderer)))
}

func (m *Mailer) SendCredentials(ctx context.Context, c *Credentials) error {
	msg, err := m.Message(c)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("sending credentials to %s: %w", c.Class.Email, err)
	}
	return nil
}
