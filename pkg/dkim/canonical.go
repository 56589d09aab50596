package dkim

import (
	"strings"
)

// Relaxed canonicalization per RFC 6376 section 3.4.

// CanonicalizeBody applies relaxed body canonicalization: WSP runs inside
// a line collapse to one space, trailing WSP per line is stripped,
// trailing empty lines are dropped and a non-empty result ends with
// exactly one CRLF.
func CanonicalizeBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")

	lines := strings.Split(body, "\n")
	for i, line := range lines {
		line = collapseWhitespace(line)
		lines[i] = strings.TrimRight(line, " \t")
	}

	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	if end == 0 {
		return ""
	}
	return strings.Join(lines[:end], "\r\n") + "\r\n"
}

// canonicalizeHeader returns "name:value\r\n" with the name lowercased
// and the value unfolded, whitespace-collapsed and trimmed.
func canonicalizeHeader(name, value string) string {
	value = strings.ReplaceAll(value, "\r\n", "")
	value = strings.ReplaceAll(value, "\n", "")
	value = collapseWhitespace(value)
	return strings.ToLower(strings.TrimSpace(name)) + ":" + strings.TrimSpace(value) + "\r\n"
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inWSP := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '\t' {
			inWSP = true
			continue
		}
		if inWSP && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inWSP = false
		b.WriteByte(c)
	}
	return b.String()
}

// splitMessage splits a raw RFC 5322 message at the first empty line.
// The body keeps its original bytes.
func splitMessage(raw string) (header string, body string) {
	if idx := strings.Index(raw, "\r\n\r\n"); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := strings.Index(raw, "\n\n"); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}
	return raw, ""
}

// parseHeaders unfolds the header block into ordered (name, value)
// pairs. Folded continuation lines are joined with a single space.
func parseHeaders(headerBlock string) []headerField {
	headerBlock = strings.ReplaceAll(headerBlock, "\r\n", "\n")
	lines := strings.Split(headerBlock, "\n")

	fields := []headerField{}
	for _, line := range lines {
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(fields) > 0 {
			fields[len(fields)-1].value += " " + strings.TrimLeft(line, " \t")
			continue
		}
		colon := strings.Index(line, ":")
		if colon < 0 {
			continue
		}
		fields = append(fields, headerField{
			name:  line[:colon],
			value: strings.TrimLeft(line[colon+1:], " \t"),
		})
	}
	return fields
}

type headerField struct {
	name  string
	value string
}

// lastHeader returns the bottom-most header with the given name, as RFC
// 6376 selects signed headers from the bottom up.
func lastHeader(fields []headerField, name string) (headerField, bool) {
	for i := len(fields) - 1; i >= 0; i-- {
		if strings.EqualFold(fields[i].name, name) {
			return fields[i], true
		}
	}
	return headerField{}, false
}
