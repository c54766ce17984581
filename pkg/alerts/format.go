package alerts

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/triage"
)

// DefaultBodyLimit caps the body length, in characters, of a notification.
const DefaultBodyLimit = 500

// Prefix returns the marker a notification of the given tier starts with.
func Prefix(tier model.Tier) string {
	switch tier {
	case model.TierUrgent:
		return "🚨 [URGENT]"
	case model.TierDayToDay:
		return "📋 [DAY-TO-DAY]"
	default:
		return "⚠️ [SERIOUS]"
	}
}

// Truncate shortens s to at most limit characters. A non-positive limit
// disables truncation.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// Format renders a notification as channel text. The body is truncated
// before escaping so the limit applies to what the reader sees.
func Format(tier model.Tier, title, body string, bodyLimit int) string {
	var b strings.Builder
	b.WriteString(Prefix(tier))
	if title != "" {
		b.WriteString(" <b>")
		b.WriteString(html.EscapeString(title))
		b.WriteString("</b>")
	}
	if body = Truncate(body, bodyLimit); body != "" {
		if title != "" {
			b.WriteString("\n\n")
		} else {
			b.WriteString(" ")
		}
		b.WriteString(html.EscapeString(body))
	}
	return b.String()
}

// Title returns the headline used for an alert notification.
func Title(a *model.Alert) string {
	words := strings.Split(strings.ToLower(string(a.Category)), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// PlainText strips the markup Format adds, for channels without HTML support.
func PlainText(text string) string {
	text = strings.ReplaceAll(text, "<b>", "*")
	text = strings.ReplaceAll(text, "</b>", "*")
	return html.UnescapeString(text)
}

// TierOf recovers the tier from text produced by Format, falling back to
// keyword sniffing for anything else.
func TierOf(text string) model.Tier {
	for _, tier := range []model.Tier{model.TierUrgent, model.TierSerious, model.TierDayToDay} {
		if strings.HasPrefix(text, Prefix(tier)) {
			return tier
		}
	}
	return triage.SniffTier(text)
}
