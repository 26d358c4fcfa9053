package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strings"
)

// EmailChannel delivers notifications over SMTP. Port 465 uses implicit TLS;
// other ports upgrade with STARTTLS when the server offers it.
type EmailChannel struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// Name implements the Channel interface.
func (c *EmailChannel) Name() string { return "email" }

// Send implements the Channel interface.
func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	if c.Host == "" || c.Port <= 0 || c.Username == "" || c.Password == "" || c.To == "" {
		return fmt.Errorf("smtp configuration incomplete")
	}

	from := c.From
	if from == "" {
		from = c.Username
	}
	subject := "[" + strings.ToUpper(string(msg.Event)) + "] " + msg.Title()
	return sendSMTP(c.Host, c.Port, c.Username, c.Password, from, c.To, subject, msg.PlainText())
}

func sendSMTP(server string, port int, user, password, from, to, subject, text string) error {
	addr := fmt.Sprintf("%s:%d", server, port)
	auth := smtp.PlainAuth("", user, password, server)
	fromAddr := extractEmail(from)
	toAddr := strings.TrimSpace(to)
	subj := mime.QEncoding.Encode("UTF-8", subject)

	var body bytes.Buffer
	qp := quotedprintable.NewWriter(&body)
	_, _ = qp.Write([]byte(text))
	_ = qp.Close()
	msg := []byte("From: " + fromAddr + "\r\n" +
		"To: " + toAddr + "\r\n" +
		"Subject: " + subj + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" + body.String())

	var c *smtp.Client
	if port == 465 {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: server})
		if err != nil {
			return fmt.Errorf("dial tls: %w", err)
		}
		client, err := smtp.NewClient(conn, server)
		if err != nil {
			return fmt.Errorf("client: %w", err)
		}
		c = client
	} else {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		client, err := smtp.NewClient(conn, server)
		if err != nil {
			return fmt.Errorf("client: %w", err)
		}
		c = client
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: server}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if ok, _ := c.Extension("AUTH"); ok {
		if err := c.Auth(auth); err != nil {
			_ = c.Quit()
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(fromAddr); err != nil {
		_ = c.Quit()
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(toAddr); err != nil {
		_ = c.Quit()
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		_ = c.Quit()
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		_ = c.Quit()
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		_ = c.Quit()
		return fmt.Errorf("close: %w", err)
	}
	return c.Quit()
}

func extractEmail(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "<"); i >= 0 {
		if j := strings.Index(s, ">"); j > i {
			return strings.TrimSpace(s[i+1 : j])
		}
	}
	return s
}
