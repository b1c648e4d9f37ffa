// Package email composes MIME messages with inline images and attachments.
package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"
	"time"
)

// Part is a binary MIME part. ContentID marks inline parts referenced from
// the HTML body with "cid:".
type Part struct {
	Filename    string
	ContentType string
	ContentID   string
	Data        []byte
}

// Message is an HTML email.
type Message struct {
	From        string
	To          []string
	Subject     string
	HTML        string
	Inline      []Part
	Attachments []Part
	Date        time.Time
}

// Validate checks the addresses of m.
func (m *Message) Validate() error {
	if _, err := mail.ParseAddress(m.From); err != nil {
		return fmt.Errorf("invalid sender address %q: %w", m.From, err)
	}
	if len(m.To) == 0 {
		return fmt.Errorf("message has no recipients")
	}
	for _, to := range m.To {
		if _, err := mail.ParseAddress(to); err != nil {
			return fmt.Errorf("invalid email address %q: %w", to, err)
		}
	}
	return nil
}

// Bytes renders m as an RFC 5322 message. The layout is
// multipart/mixed{ multipart/related{ html, inline... }, attachments... }.
func (m *Message) Bytes() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}

	var buf bytes.Buffer
	mixed := multipart.NewWriter(&buf)

	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	header("From", m.From)
	header("To", strings.Join(m.To, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header("Date", date.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", mixed.Boundary()))
	buf.WriteString("\r\n")

	var related bytes.Buffer
	relWriter := multipart.NewWriter(&related)
	if err := writeHTML(relWriter, m.HTML); err != nil {
		return nil, err
	}
	for _, p := range m.Inline {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", p.ContentType)
		h.Set("Content-Transfer-Encoding", "base64")
		h.Set("Content-ID", "<"+p.ContentID+">")
		h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", p.Filename))
		if err := writeBase64(relWriter, h, p.Data); err != nil {
			return nil, err
		}
	}
	if err := relWriter.Close(); err != nil {
		return nil, err
	}

	relHeader := textproto.MIMEHeader{}
	relHeader.Set("Content-Type", fmt.Sprintf("multipart/related; boundary=%q", relWriter.Boundary()))
	w, err := mixed.CreatePart(relHeader)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(related.Bytes()); err != nil {
		return nil, err
	}

	for _, p := range m.Attachments {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", p.ContentType)
		h.Set("Content-Transfer-Encoding", "base64")
		h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", p.Filename))
		if err := writeBase64(mixed, h, p.Data); err != nil {
			return nil, err
		}
	}
	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeHTML(w *multipart.Writer, html string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", `text/html; charset="utf-8"`)
	h.Set("Content-Transfer-Encoding", "base64")
	return writeBase64(w, h, []byte(html))
}

// writeBase64 writes data base64 encoded in 76 column lines.
func writeBase64(w *multipart.Writer, h textproto.MIMEHeader, data []byte) error {
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := fmt.Fprintf(part, "%s\r\n", encoded[:76]); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err = fmt.Fprintf(part, "%s\r\n", encoded)
	return err
}
