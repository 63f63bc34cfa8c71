package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"ordersight/core/domain"
	"ordersight/pkg/apperr"
)

// RetailerAdapter implements the read-only domain.RetailerRepository. The
// directory is seeded out of band; the pipeline only reads it.
type RetailerAdapter struct {
	db sqlx.ExtContext
}

// NewRetailerAdapter creates a new RetailerAdapter.
func NewRetailerAdapter(db sqlx.ExtContext) *RetailerAdapter {
	return &RetailerAdapter{db: db}
}

const retailerColumns = `
	id, name, normalized_name, domains, patterns, created_at, updated_at`

func (r *RetailerAdapter) GetByID(ctx context.Context, id int64) (*domain.Retailer, error) {
	query := `SELECT ` + retailerColumns + `
		FROM retailers
		WHERE id = $1`

	var row retailerRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("retailer")
		}
		return nil, wrapDBError("get retailer", err)
	}
	return row.toEntity(), nil
}

func (r *RetailerAdapter) GetByDomain(ctx context.Context, senderDomain string) (*domain.Retailer, error) {
	query := `SELECT ` + retailerColumns + `
		FROM retailers
		WHERE $1 = ANY(domains)`

	var row retailerRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, senderDomain); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("retailer")
		}
		return nil, wrapDBError("get retailer by domain", err)
	}
	return row.toEntity(), nil
}

func (r *RetailerAdapter) List(ctx context.Context) ([]*domain.Retailer, error) {
	query := `SELECT ` + retailerColumns + `
		FROM retailers
		ORDER BY normalized_name`

	var rows []retailerRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query); err != nil {
		return nil, wrapDBError("list retailers", err)
	}

	retailers := make([]*domain.Retailer, len(rows))
	for i := range rows {
		retailers[i] = rows[i].toEntity()
	}
	return retailers, nil
}

// =============================================================================
// Row Types
// =============================================================================

type retailerRow struct {
	ID             int64          `db:"id"`
	Name           string         `db:"name"`
	NormalizedName string         `db:"normalized_name"`
	Domains        pq.StringArray `db:"domains"`
	Patterns       []byte         `db:"patterns"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r *retailerRow) toEntity() *domain.Retailer {
	retailer := &domain.Retailer{
		ID:             r.ID,
		Name:           r.Name,
		NormalizedName: r.NormalizedName,
		Domains:        r.Domains,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if len(r.Patterns) > 0 {
		json.Unmarshal(r.Patterns, &retailer.Patterns)
	}
	return retailer
}
