package smtpclient

import "strings"

// Phrase lists refining 5xx classification. Servers frequently misuse
// status codes, so the reply text gets the final say.

var hardBouncePhrases = []string{
	"user unknown",
	"unknown user",
	"mailbox not found",
	"no such user",
	"recipient not found",
	"address rejected",
	"does not exist",
	"invalid recipient",
	"recipient address rejected",
	"account disabled",
	"address unknown",
	"no mailbox",
}

var softBouncePhrases = []string{
	"try again later",
	"mailbox full",
	"quota exceeded",
	"temporarily deferred",
	"temporarily unavailable",
	"too many connections",
	"rate limited",
	"greylisted",
	"greylisting",
}

// IsHardBounceText reports whether a rejection text names a permanently
// undeliverable address, which makes the recipient suppression-eligible.
func IsHardBounceText(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range hardBouncePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// IsSoftBounceText reports whether a 5xx reply is actually a transient
// condition and should be retried despite the permanent code.
func IsSoftBounceText(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range softBouncePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// classifyReply maps a non-success reply onto retry and bounce flags.
func classifyReply(reply Reply) (shouldRetry, hardBounce bool) {
	text := reply.Text()
	switch {
	case reply.Temporary():
		return true, false
	case reply.Permanent():
		if IsSoftBounceText(text) {
			return true, false
		}
		return false, IsHardBounceText(text)
	default:
		return true, false
	}
}
