package domain

import (
	"context"
	"time"
)

// MatchKind says how a retailer match was produced.
type MatchKind string

const (
	MatchExactDomain MatchKind = "exact_domain"
	MatchPattern     MatchKind = "pattern"
)

// PatternRule is an optional regex rule evaluated against the full sender
// address when no registered domain matches.
type PatternRule struct {
	Pattern    string  `json:"pattern"`
	Confidence float64 `json:"confidence"`
}

// Retailer is a known merchant identity. NormalizedName is the dedup key;
// Domains is the registered sender-domain set.
type Retailer struct {
	ID             int64         `json:"id"`
	Name           string        `json:"name"`
	NormalizedName string        `json:"normalized_name"`
	Domains        []string      `json:"domains"`
	Patterns       []PatternRule `json:"patterns,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// RetailerMatch is the outcome of resolving a sender address.
type RetailerMatch struct {
	Retailer   *Retailer `json:"retailer"`
	Kind       MatchKind `json:"kind"`
	Confidence float64   `json:"confidence"`
}

// RetailerRepository is the read-only retailer directory.
type RetailerRepository interface {
	GetByID(ctx context.Context, id int64) (*Retailer, error)
	GetByDomain(ctx context.Context, domain string) (*Retailer, error)
	List(ctx context.Context) ([]*Retailer, error)
}
