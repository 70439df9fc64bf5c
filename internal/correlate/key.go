package correlate

import (
	"regexp"
	"slices"
	"strings"

	"github.com/greeddj/mailbridge-go/internal/model"
)

var (
	replyPrefix = regexp.MustCompile(`(?i)^\s*((re|fw|fwd|r|i|aw|sv|wg)\s*(\[\d+\])?\s*:\s*)+`)
	spaces      = regexp.MustCompile(`\s+`)
)

// NormalizeSubject strips reply and forward prefixes, collapses whitespace and lowercases.
func NormalizeSubject(s string) string {
	s = replyPrefix.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(strings.TrimSpace(s), " ")
	return strings.ToLower(s)
}

func nativeKey(id string) string {
	return "id:" + strings.ToLower(strings.Trim(strings.TrimSpace(id), "<>"))
}

func fallbackKey(subject, counterpart string) string {
	return "subj:" + NormalizeSubject(subject) + "|" + model.NormalizeAddress(counterpart)
}

// inboundKey is the single key an inbound item is matched by. The native
// conversation id is authoritative when present.
func inboundKey(it model.Item) string {
	if strings.TrimSpace(it.ConversationID) != "" {
		return nativeKey(it.ConversationID)
	}
	sender := it.FromAddress
	if sender == "" {
		sender = it.From
	}
	return fallbackKey(it.Subject, sender)
}

// outboundKeys lists every key an outbound item can satisfy.
func outboundKeys(it model.Item) []string {
	var keys []string
	if strings.TrimSpace(it.ConversationID) != "" {
		keys = append(keys, nativeKey(it.ConversationID))
	}
	for _, rcpt := range it.To {
		keys = append(keys, fallbackKey(it.Subject, rcpt))
	}
	return keys
}

// Related reports whether it belongs to the conversation of focus, in either
// direction: a shared inbound key, or one of them answering the other.
func Related(focus, it model.Item) bool {
	if it.Ref != "" && it.Ref == focus.Ref {
		return true
	}
	fk, ik := inboundKey(focus), inboundKey(it)
	return fk == ik || slices.Contains(outboundKeys(it), fk) || slices.Contains(outboundKeys(focus), ik)
}
