package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fd1az/pricestream/business/stream/app"
	"github.com/fd1az/pricestream/business/stream/domain"
	"github.com/fd1az/pricestream/internal/apperror"
)

// Catalog implements app.Catalog on PostgreSQL.
type Catalog struct {
	pool *Pool
}

var _ app.Catalog = (*Catalog)(nil)

// NewCatalog creates a Catalog.
func NewCatalog(pool *Pool) *Catalog {
	return &Catalog{pool: pool}
}

// LoadTokens returns every persisted token.
func (c *Catalog) LoadTokens(ctx context.Context) ([]domain.TokenRecord, error) {
	query := `
		SELECT address, symbol, name, decimals, prices, initialized, updated_at
		FROM tracked_tokens
		ORDER BY address
	`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, apperror.New(apperror.CodeStorageQueryFailed,
			apperror.WithCause(err),
			apperror.WithContext("load tokens"))
	}
	defer rows.Close()

	var out []domain.TokenRecord
	for rows.Next() {
		rec, err := scanToken(rows)
		if err != nil {
			return nil, apperror.New(apperror.CodeStorageQueryFailed,
				apperror.WithCause(err),
				apperror.WithContext("scan token"))
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.New(apperror.CodeStorageQueryFailed, apperror.WithCause(err))
	}
	return out, nil
}

// SaveToken upserts metadata and the last price map.
func (c *Catalog) SaveToken(ctx context.Context, rec domain.TokenRecord) error {
	prices := rec.Prices
	if prices == nil {
		prices = domain.PriceMap{}
	}
	data, err := json.Marshal(prices)
	if err != nil {
		return apperror.New(apperror.CodeInternalError, apperror.WithCause(err))
	}

	var updatedAt *time.Time
	if !rec.UpdatedAt.IsZero() {
		updatedAt = &rec.UpdatedAt
	}

	query := `
		INSERT INTO tracked_tokens (address, symbol, name, decimals, prices, initialized, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address) DO UPDATE SET
			symbol      = EXCLUDED.symbol,
			name        = EXCLUDED.name,
			decimals    = EXCLUDED.decimals,
			prices      = EXCLUDED.prices,
			initialized = EXCLUDED.initialized,
			updated_at  = EXCLUDED.updated_at
	`

	_, err = c.pool.Exec(ctx, query,
		rec.Address,
		rec.Symbol,
		rec.Name,
		int16(rec.Decimals),
		data,
		rec.Initialized,
		updatedAt,
	)
	if err != nil {
		return apperror.New(apperror.CodeStorageQueryFailed,
			apperror.WithCause(err),
			apperror.WithContext("save token "+rec.Address))
	}
	return nil
}

func scanToken(row pgx.Row) (domain.TokenRecord, error) {
	var (
		rec       domain.TokenRecord
		decimals  int16
		prices    []byte
		updatedAt *time.Time
	)

	err := row.Scan(
		&rec.Address,
		&rec.Symbol,
		&rec.Name,
		&decimals,
		&prices,
		&rec.Initialized,
		&updatedAt,
	)
	if err != nil {
		return rec, err
	}

	rec.Decimals = uint8(decimals)
	if updatedAt != nil {
		rec.UpdatedAt = *updatedAt
	}
	if len(prices) > 0 {
		if err := json.Unmarshal(prices, &rec.Prices); err != nil {
			return rec, err
		}
	}
	return rec, nil
}
