package retailer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ordersight/core/domain"
)

type fakeRetailerRepo struct {
	retailers []*domain.Retailer
	err       error
	listCalls int
}

func (f *fakeRetailerRepo) GetByID(ctx context.Context, id int64) (*domain.Retailer, error) {
	for _, r := range f.retailers {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeRetailerRepo) GetByDomain(ctx context.Context, dom string) (*domain.Retailer, error) {
	for _, r := range f.retailers {
		for _, d := range r.Domains {
			if d == dom {
				return r, nil
			}
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeRetailerRepo) List(ctx context.Context) ([]*domain.Retailer, error) {
	f.listCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.retailers, nil
}

func testDirectory() []*domain.Retailer {
	return []*domain.Retailer{
		{
			ID:             1,
			Name:           "Acme Store",
			NormalizedName: "acme-store",
			Domains:        []string{"acme-store.com"},
			Patterns:       []domain.PatternRule{{Pattern: `acme`, Confidence: 0.7}},
		},
		{
			ID:             2,
			Name:           "Nordic Supply",
			NormalizedName: "nordic-supply",
			Domains:        []string{"nordicsupply.com", "nordicsupply.io"},
			Patterns:       []domain.PatternRule{{Pattern: `nordic\s*supply`, Confidence: 0.85}},
		},
	}
}

func newTestMatcher(repo domain.RetailerRepository) *Matcher {
	return NewMatcher(repo, time.Minute, zerolog.Nop())
}

func TestMatchExactDomain(t *testing.T) {
	m := newTestMatcher(&fakeRetailerRepo{retailers: testDirectory()})

	match, err := m.Match(context.Background(), MatchInput{
		Sender:         "jane@example.com",
		OriginalSender: "orders@acme-store.com",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match == nil || match.Retailer.ID != 1 {
		t.Fatalf("expected acme-store, got %+v", match)
	}
	if match.Kind != domain.MatchExactDomain || match.Confidence != 1.0 {
		t.Errorf("kind=%s conf=%v, want exact_domain 1.0", match.Kind, match.Confidence)
	}
}

func TestMatchPrefersOriginalSender(t *testing.T) {
	// Forwarding mailbox itself belongs to a known retailer domain; the
	// recovered original sender must still win.
	m := newTestMatcher(&fakeRetailerRepo{retailers: testDirectory()})

	match, err := m.Match(context.Background(), MatchInput{
		Sender:         "orders@acme-store.com",
		OriginalSender: "noreply@nordicsupply.com",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match == nil || match.Retailer.ID != 2 {
		t.Fatalf("expected nordic-supply, got %+v", match)
	}
}

func TestMatchSubdomain(t *testing.T) {
	m := newTestMatcher(&fakeRetailerRepo{retailers: testDirectory()})

	match, err := m.Match(context.Background(), MatchInput{
		OriginalSender: "noreply@orders.acme-store.com",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match == nil || match.Retailer.ID != 1 {
		t.Fatalf("expected acme-store via subdomain, got %+v", match)
	}
	if match.Confidence >= 1.0 {
		t.Errorf("subdomain match should score below exact, got %v", match.Confidence)
	}
}

func TestMatchPatternFallback(t *testing.T) {
	m := newTestMatcher(&fakeRetailerRepo{retailers: testDirectory()})

	match, err := m.Match(context.Background(), MatchInput{
		Sender:  "jane@example.com",
		Subject: "Your Nordic Supply order has shipped",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match == nil || match.Retailer.ID != 2 {
		t.Fatalf("expected pattern match on nordic-supply, got %+v", match)
	}
	if match.Kind != domain.MatchPattern {
		t.Errorf("kind = %s, want pattern", match.Kind)
	}
}

func TestMatchHighestConfidenceWins(t *testing.T) {
	repo := &fakeRetailerRepo{retailers: []*domain.Retailer{
		{ID: 1, NormalizedName: "low", Patterns: []domain.PatternRule{{Pattern: `order`, Confidence: 0.5}}},
		{ID: 2, NormalizedName: "high", Patterns: []domain.PatternRule{{Pattern: `order`, Confidence: 0.9}}},
	}}
	m := newTestMatcher(repo)

	match, err := m.Match(context.Background(), MatchInput{Subject: "order update"})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match == nil || match.Retailer.ID != 2 {
		t.Fatalf("expected highest-confidence retailer, got %+v", match)
	}
}

func TestMatchNoHit(t *testing.T) {
	m := newTestMatcher(&fakeRetailerRepo{retailers: testDirectory()})

	match, err := m.Match(context.Background(), MatchInput{
		Sender:  "someone@unknown.example",
		Subject: "hello there",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match != nil {
		t.Fatalf("expected no match, got %+v", match)
	}
}

func TestDirectoryCached(t *testing.T) {
	repo := &fakeRetailerRepo{retailers: testDirectory()}
	m := newTestMatcher(repo)

	for i := 0; i < 3; i++ {
		if _, err := m.Match(context.Background(), MatchInput{Sender: "a@acme-store.com"}); err != nil {
			t.Fatalf("Match: %v", err)
		}
	}
	if repo.listCalls != 1 {
		t.Errorf("listCalls = %d, want 1", repo.listCalls)
	}

	m.Invalidate()
	if _, err := m.Match(context.Background(), MatchInput{Sender: "a@acme-store.com"}); err != nil {
		t.Fatalf("Match: %v", err)
	}
	if repo.listCalls != 2 {
		t.Errorf("listCalls after invalidate = %d, want 2", repo.listCalls)
	}
}

func TestStaleDirectoryServedOnRefreshError(t *testing.T) {
	repo := &fakeRetailerRepo{retailers: testDirectory()}
	m := NewMatcher(repo, time.Millisecond, zerolog.Nop())

	if _, err := m.Match(context.Background(), MatchInput{Sender: "a@acme-store.com"}); err != nil {
		t.Fatalf("warm-up Match: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	repo.err = errors.New("db down")

	match, err := m.Match(context.Background(), MatchInput{Sender: "a@acme-store.com"})
	if err != nil {
		t.Fatalf("expected stale cache to be served, got %v", err)
	}
	if match == nil || match.Retailer.ID != 1 {
		t.Fatalf("stale match = %+v", match)
	}
}

func TestEmptyCacheRefreshErrorSurfaces(t *testing.T) {
	repo := &fakeRetailerRepo{err: errors.New("db down")}
	m := newTestMatcher(repo)

	if _, err := m.Match(context.Background(), MatchInput{Sender: "a@acme-store.com"}); err == nil {
		t.Fatal("expected error with empty cache and failing repo")
	}
}
