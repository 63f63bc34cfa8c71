// Package retailer resolves which merchant a forwarded email came from.
// Matching prefers the recovered original sender over the forwarding
// mailbox, and an exact domain hit always beats a pattern hit.
package retailer

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ordersight/core/domain"
	"ordersight/core/service/normalize"
)

// =============================================================================
// Matcher
// =============================================================================

const defaultDirectoryTTL = 5 * time.Minute

// MatchInput carries the sender signals available after normalization.
type MatchInput struct {
	Sender         string // forwarding mailbox address
	OriginalSender string // recovered from forwarding headers, may be empty
	Subject        string
}

// Matcher resolves retailers from sender domains and subject patterns.
// The retailer directory is cached in memory and refreshed on TTL expiry;
// a stale directory is served when a refresh fails.
type Matcher struct {
	repo domain.RetailerRepository
	ttl  time.Duration
	log  zerolog.Logger

	mu        sync.RWMutex
	directory []*domain.Retailer
	byDomain  map[string]*domain.Retailer
	fetchedAt time.Time
}

// NewMatcher creates a matcher over the given retailer repository.
func NewMatcher(repo domain.RetailerRepository, ttl time.Duration, log zerolog.Logger) *Matcher {
	if ttl <= 0 {
		ttl = defaultDirectoryTTL
	}
	return &Matcher{
		repo: repo,
		ttl:  ttl,
		log:  log.With().Str("component", "retailer_matcher").Logger(),
	}
}

// Match resolves the retailer for in. It returns nil when nothing matched;
// an unmatched retailer is not an error, downstream parsing proceeds
// without the hint.
func (m *Matcher) Match(ctx context.Context, in MatchInput) (*domain.RetailerMatch, error) {
	if err := m.refresh(ctx); err != nil {
		return nil, err
	}

	// Original sender first: the forwarding mailbox is the user's own
	// address and almost never identifies the merchant.
	for _, addr := range []string{in.OriginalSender, in.Sender} {
		if addr == "" {
			continue
		}
		if match := m.matchDomain(addr); match != nil {
			return match, nil
		}
	}

	return m.matchPatterns(in), nil
}

func (m *Matcher) matchDomain(addr string) *domain.RetailerMatch {
	dom := normalize.SenderDomain(addr)
	if dom == "" {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, ok := m.byDomain[dom]; ok {
		return &domain.RetailerMatch{Retailer: r, Kind: domain.MatchExactDomain, Confidence: 1.0}
	}

	// Subdomain fallback: orders.acme-store.com matches acme-store.com.
	for known, r := range m.byDomain {
		if strings.HasSuffix(dom, "."+known) {
			return &domain.RetailerMatch{Retailer: r, Kind: domain.MatchExactDomain, Confidence: 0.95}
		}
	}
	return nil
}

// matchPatterns scans every retailer's pattern rules against the subject
// and sender text, keeping the highest-confidence hit.
func (m *Matcher) matchPatterns(in MatchInput) *domain.RetailerMatch {
	haystack := strings.ToLower(in.Subject + " " + in.OriginalSender + " " + in.Sender)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *domain.RetailerMatch
	for _, r := range m.directory {
		for _, rule := range r.Patterns {
			re, err := compilePattern(rule.Pattern)
			if err != nil {
				m.log.Warn().Str("retailer", r.NormalizedName).Str("pattern", rule.Pattern).Err(err).Msg("invalid retailer pattern skipped")
				continue
			}
			if !re.MatchString(haystack) {
				continue
			}
			if best == nil || rule.Confidence > best.Confidence {
				best = &domain.RetailerMatch{Retailer: r, Kind: domain.MatchPattern, Confidence: rule.Confidence}
			}
		}
	}
	return best
}

// =============================================================================
// Directory cache
// =============================================================================

func (m *Matcher) refresh(ctx context.Context) error {
	m.mu.RLock()
	fresh := time.Since(m.fetchedAt) < m.ttl && m.directory != nil
	m.mu.RUnlock()
	if fresh {
		return nil
	}

	retailers, err := m.repo.List(ctx)
	if err != nil {
		m.mu.RLock()
		stale := m.directory != nil
		m.mu.RUnlock()
		if stale {
			m.log.Warn().Err(err).Msg("retailer directory refresh failed, serving stale cache")
			return nil
		}
		return err
	}

	byDomain := make(map[string]*domain.Retailer, len(retailers))
	for _, r := range retailers {
		for _, d := range r.Domains {
			byDomain[strings.ToLower(d)] = r
		}
	}

	m.mu.Lock()
	m.directory = retailers
	m.byDomain = byDomain
	m.fetchedAt = time.Now()
	m.mu.Unlock()

	m.log.Debug().Int("retailers", len(retailers)).Msg("retailer directory refreshed")
	return nil
}

// Invalidate drops the cached directory so the next Match reloads it.
func (m *Matcher) Invalidate() {
	m.mu.Lock()
	m.directory = nil
	m.byDomain = nil
	m.fetchedAt = time.Time{}
	m.mu.Unlock()
}

var patternCache sync.Map // pattern string -> *regexp.Regexp

func compilePattern(p string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(p); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile("(?i)" + p)
	if err != nil {
		return nil, err
	}
	patternCache.Store(p, re)
	return re, nil
}
