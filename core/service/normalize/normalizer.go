// Package normalize prepares forwarded purchase emails for classification.
// It strips forwarding artifacts from subjects and bodies, recovers the
// original sender address, and bounds body size before anything reaches
// the extraction layer.
package normalize

import (
	"regexp"
	"strings"
)

// =============================================================================
// Normalizer
// =============================================================================

// Result is the cleaned form of a forwarded email.
type Result struct {
	Subject        string
	Body           string
	OriginalSender string // empty when no forwarding header carried one
}

// Normalizer cleans forwarded email subjects and bodies. It is stateless
// and safe for concurrent use.
type Normalizer struct {
	maxBodyChars int
}

// NewNormalizer creates a normalizer that truncates bodies to maxBodyChars runes.
func NewNormalizer(maxBodyChars int) *Normalizer {
	if maxBodyChars <= 0 {
		maxBodyChars = 8000
	}
	return &Normalizer{maxBodyChars: maxBodyChars}
}

// Normalize cleans a forwarded email. It never fails: malformed input
// degrades to best-effort output so classification can still run.
func (n *Normalizer) Normalize(subject, textBody, htmlBody string) Result {
	body := textBody
	if strings.TrimSpace(body) == "" && htmlBody != "" {
		body = htmlToText(htmlBody)
	}

	sender := extractOriginalSender(body)

	return Result{
		Subject:        CleanSubject(subject),
		Body:           truncateRunes(stripForwardingHeaders(body), n.maxBodyChars),
		OriginalSender: sender,
	}
}

// =============================================================================
// Subject cleaning
// =============================================================================

var subjectPrefixRe = regexp.MustCompile(`(?i)^\s*(\[?\s*(fwd?|re|aw|wg|tr|rv)\s*:?\s*\]?\s*:?\s*)+`)

// CleanSubject strips forwarding and reply prefixes, including repeated,
// bracketed, and common localized forms (AW, WG, TR, RV).
func CleanSubject(subject string) string {
	cleaned := subject
	for i := 0; i < 10; i++ {
		next := subjectPrefixRe.ReplaceAllString(cleaned, "")
		if next == cleaned {
			break
		}
		cleaned = next
	}
	return strings.TrimSpace(cleaned)
}

// =============================================================================
// Body cleaning
// =============================================================================

var (
	gmailMarkerRe   = regexp.MustCompile(`-{3,}\s*Forwarded message\s*-{3,}`)
	appleMarkerRe   = regexp.MustCompile(`(?i)^Begin forwarded message:`)
	outlookMarkerRe = regexp.MustCompile(`-{3,}\s*Original Message\s*-{3,}`)
	headerLineRe    = regexp.MustCompile(`(?i)^(From|Sent|To|Cc|Subject|Date|Reply-To)\s*:`)
)

// stripForwardingHeaders removes forwarding banners and the header block
// that follows them (From/Sent/To/Subject lines), keeping the forwarded
// content itself.
func stripForwardingHeaders(body string) string {
	lines := strings.Split(body, "\n")
	out := make([]string, 0, len(lines))
	inHeaderBlock := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if gmailMarkerRe.MatchString(trimmed) || appleMarkerRe.MatchString(trimmed) || outlookMarkerRe.MatchString(trimmed) {
			inHeaderBlock = true
			continue
		}

		if inHeaderBlock {
			if headerLineRe.MatchString(trimmed) || trimmed == "" {
				continue
			}
			inHeaderBlock = false
		}

		// Quoted-reply markers on header lines outside a banner block
		if headerLineRe.MatchString(strings.TrimLeft(trimmed, "> ")) && looksLikeForwardHeader(trimmed) {
			continue
		}

		out = append(out, line)
	}

	return collapseWhitespace(strings.Join(out, "\n"))
}

// looksLikeForwardHeader guards against stripping body lines that merely
// start with "To:" etc. by requiring either quoting or an address/date hint.
func looksLikeForwardHeader(line string) bool {
	stripped := strings.TrimLeft(line, "> ")
	if stripped != line {
		return true
	}
	return strings.Contains(line, "@") || strings.Contains(line, "mailto:")
}

var (
	multiBlankRe = regexp.MustCompile(`\n{3,}`)
	trailingWSRe = regexp.MustCompile(`[ \t]+\n`)
)

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = trailingWSRe.ReplaceAllString(s, "\n")
	s = multiBlankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// =============================================================================
// Original sender extraction
// =============================================================================

var (
	fromLineRe    = regexp.MustCompile(`(?im)^>?\s*From\s*:\s*(.+)$`)
	addrBracketRe = regexp.MustCompile(`<\s*(?:mailto:)?([^<>@\s]+@[^<>@\s]+\.[^<>@\s]+)\s*>`)
	addrBareRe    = regexp.MustCompile(`(?:mailto:)?([A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,})`)
)

// extractOriginalSender pulls the retailer address from the first
// forwarded-header From line. Returns "" when none is present.
func extractOriginalSender(body string) string {
	m := fromLineRe.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	line := m[1]
	if b := addrBracketRe.FindStringSubmatch(line); b != nil {
		return strings.ToLower(b[1])
	}
	if b := addrBareRe.FindStringSubmatch(line); b != nil {
		return strings.ToLower(b[1])
	}
	return ""
}

// SenderDomain returns the lowercased domain part of an email address,
// or "" when the address has no domain.
func SenderDomain(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[at+1:])
}

// =============================================================================
// HTML fallback
// =============================================================================

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	brRe          = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockCloseRe  = regexp.MustCompile(`(?i)</(p|div|tr|li|h[1-6]|table)>`)
	tagRe         = regexp.MustCompile(`<[^>]*>`)
	entityMap     = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&#8217;", "'",
	)
)

// htmlToText converts an HTML body to plain text when no text part exists.
// Block-level closers become newlines so line-oriented header stripping
// still works on the result.
func htmlToText(html string) string {
	s := scriptStyleRe.ReplaceAllString(html, "")
	s = brRe.ReplaceAllString(s, "\n")
	s = blockCloseRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = entityMap.Replace(s)
	return collapseWhitespace(s)
}
