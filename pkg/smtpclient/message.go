package smtpclient

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Email is the fully resolved content handed to the transport. Template
// substitution and tracking injection are already done at this point.
type Email struct {
	From       string
	FromName   string
	To         []string
	Cc         []string
	Bcc        []string
	ReplyTo    string
	Subject    string
	HTMLBody   string
	TextBody   string
	Headers    map[string]string
	TrackingID string
}

// AllRecipients returns To+Cc+Bcc, the full RCPT set.
func (e *Email) AllRecipients() []string {
	out := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	out = append(out, e.To...)
	out = append(out, e.Cc...)
	out = append(out, e.Bcc...)
	return out
}

// FromDomain returns the domain part of the envelope sender, used for
// DKIM key lookup and rate limiting.
func (e *Email) FromDomain() string {
	at := strings.LastIndex(e.From, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(e.From[at+1:])
}

// BuildMessage renders the RFC 5322 message. With both text and HTML
// bodies present it produces multipart/alternative with quoted-printable
// parts; otherwise a single part. Returns the generated Message-ID and
// the raw bytes, ready for DKIM signing.
func BuildMessage(e *Email, now time.Time) (messageID string, raw []byte, err error) {
	domain := e.FromDomain()
	if domain == "" {
		return "", nil, fmt.Errorf("sender %q has no domain", e.From)
	}
	messageID = fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)

	var buf bytes.Buffer
	writeHeader := func(name, value string) {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	}

	writeHeader("Message-ID", messageID)
	writeHeader("Date", now.Format(time.RFC1123Z))
	writeHeader("From", formatAddress(e.FromName, e.From))
	writeHeader("To", strings.Join(e.To, ", "))
	if len(e.Cc) > 0 {
		writeHeader("Cc", strings.Join(e.Cc, ", "))
	}
	if e.ReplyTo != "" {
		writeHeader("Reply-To", e.ReplyTo)
	}
	writeHeader("Subject", encodeWord(e.Subject))
	for _, kv := range sortedHeaderList(e.Headers) {
		writeHeader(kv[0], kv[1])
	}
	writeHeader("MIME-Version", "1.0")

	hasText := strings.TrimSpace(e.TextBody) != ""
	hasHTML := strings.TrimSpace(e.HTMLBody) != ""

	switch {
	case hasText && hasHTML:
		boundary := "b-" + uuid.NewString()
		writeHeader("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
		buf.WriteString("\r\n")

		if err := writeBodyPart(&buf, boundary, "text/plain; charset=UTF-8", e.TextBody); err != nil {
			return "", nil, err
		}
		if err := writeBodyPart(&buf, boundary, "text/html; charset=UTF-8", e.HTMLBody); err != nil {
			return "", nil, err
		}
		buf.WriteString("--" + boundary + "--\r\n")
	case hasHTML:
		writeHeader("Content-Type", "text/html; charset=UTF-8")
		writeHeader("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQuotedPrintable(&buf, e.HTMLBody); err != nil {
			return "", nil, err
		}
	default:
		writeHeader("Content-Type", "text/plain; charset=UTF-8")
		writeHeader("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQuotedPrintable(&buf, e.TextBody); err != nil {
			return "", nil, err
		}
	}

	return messageID, buf.Bytes(), nil
}

func writeBodyPart(buf *bytes.Buffer, boundary, contentType, body string) error {
	buf.WriteString("--" + boundary + "\r\n")
	buf.WriteString("Content-Type: " + contentType + "\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	if err := writeQuotedPrintable(buf, body); err != nil {
		return err
	}
	buf.WriteString("\r\n")
	return nil
}

// writeQuotedPrintable encodes with the standard 76-column soft wrap.
func writeQuotedPrintable(buf *bytes.Buffer, body string) error {
	w := quotedprintable.NewWriter(buf)
	if _, err := w.Write([]byte(body)); err != nil {
		return err
	}
	return w.Close()
}

// formatAddress renders "Display Name <addr>" with the display name
// RFC 2047 encoded when needed.
func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return encodeWord(name) + " <" + addr + ">"
}

// encodeWord Q-encodes a header value only when it contains non-ASCII.
func encodeWord(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return mime.QEncoding.Encode("utf-8", s)
		}
	}
	return s
}

// sortedHeaderList keeps custom header output deterministic so repeated
// builds of the same message produce identical bytes.
func sortedHeaderList(headers map[string]string) [][2]string {
	if len(headers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, headers[k]})
	}
	return out
}
