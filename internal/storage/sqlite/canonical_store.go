package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/storage"
)

const canonicalColumns = `country, platform, month, seller_id, seller_name, seller_url, spu_id, spu_name,
	spu_url, category_or_source, vendor_group, vendor_group_type, price, historical_quantity, historical_rating`

// CanonicalStore implements storage.CanonicalStore on an embedded SQLite table.
type CanonicalStore struct {
	db *DB
}

// NewCanonicalStore opens the canonical table at path, creating it if absent.
func NewCanonicalStore(ctx context.Context, path string) (*CanonicalStore, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	s := &CanonicalStore{db: db}
	if err := s.createTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *CanonicalStore) createTable(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS canonical (
		seq INTEGER PRIMARY KEY,
		country TEXT NOT NULL,
		platform TEXT NOT NULL,
		month TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		seller_name TEXT NOT NULL,
		seller_url TEXT NOT NULL,
		spu_id TEXT NOT NULL,
		spu_name TEXT NOT NULL,
		spu_url TEXT NOT NULL,
		category_or_source TEXT NOT NULL,
		vendor_group TEXT NOT NULL,
		vendor_group_type TEXT NOT NULL,
		price REAL,
		historical_quantity REAL,
		historical_rating REAL
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create canonical table: %w", err)
	}
	return nil
}

// Reset drops any previous contents.
func (s *CanonicalStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS canonical`); err != nil {
		return fmt.Errorf("drop canonical table: %w", err)
	}
	return s.createTable(ctx)
}

// AppendBatch inserts records in one transaction.
func (s *CanonicalStore) AppendBatch(ctx context.Context, records []*domain.CanonicalRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.SPUID == "" || r.Month.IsZero() {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO canonical (`+canonicalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.Country, r.Platform, r.Month.String(), r.SellerID, r.SellerName, r.SellerURL, r.SPUID,
			r.SPUName, r.SPUURL, r.CategoryOrSource, r.VendorGroup, r.VendorGroupType,
			nullFloat(r.Price), nullFloat(r.HistoricalQty), nullFloat(r.HistoricalRating),
		)
		if err != nil {
			return fmt.Errorf("insert canonical row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Finalize builds the lookup indexes.
func (s *CanonicalStore) Finalize(ctx context.Context) error {
	for _, q := range []string{
		`CREATE INDEX IF NOT EXISTS idx_canonical_spu_month ON canonical(spu_id, month)`,
		`CREATE INDEX IF NOT EXISTS idx_canonical_vendor_group ON canonical(vendor_group)`,
		`CREATE INDEX IF NOT EXISTS idx_canonical_month ON canonical(month)`,
	} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Months returns the distinct months present, ascending.
func (s *CanonicalStore) Months(ctx context.Context) ([]domain.Month, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT month FROM canonical ORDER BY month`)
	if err != nil {
		return nil, fmt.Errorf("query months: %w", err)
	}
	defer rows.Close()

	var months []domain.Month
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan month: %w", err)
		}
		m, err := domain.ParseMonth(raw)
		if err != nil {
			return nil, err
		}
		months = append(months, m)
	}
	return months, rows.Err()
}

// Scan streams matching records in insertion order.
func (s *CanonicalStore) Scan(ctx context.Context, filter storage.ScanFilter, fn func(*domain.CanonicalRecord) error) error {
	query := `SELECT ` + canonicalColumns + ` FROM canonical WHERE 1=1`
	var args []any
	if !filter.From.IsZero() {
		query += ` AND month >= ?`
		args = append(args, filter.From.String())
	}
	if !filter.To.IsZero() {
		query += ` AND month <= ?`
		args = append(args, filter.To.String())
	}
	switch filter.Level {
	case domain.LevelSeller:
		query += ` AND category_or_source = ''`
	case domain.LevelCategory:
		query += ` AND category_or_source <> ''`
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query canonical: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                      domain.CanonicalRecord
			month                  string
			price, histQty, rating sql.NullFloat64
		)
		err := rows.Scan(&r.Country, &r.Platform, &month, &r.SellerID, &r.SellerName, &r.SellerURL, &r.SPUID,
			&r.SPUName, &r.SPUURL, &r.CategoryOrSource, &r.VendorGroup, &r.VendorGroupType,
			&price, &histQty, &rating)
		if err != nil {
			return fmt.Errorf("scan canonical row: %w", err)
		}
		if r.Month, err = domain.ParseMonth(month); err != nil {
			return err
		}
		r.Price = floatPtr(price)
		r.HistoricalQty = floatPtr(histQty)
		r.HistoricalRating = floatPtr(rating)

		if err := fn(&r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of stored records.
func (s *CanonicalStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM canonical`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count canonical: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *CanonicalStore) Close() error {
	return s.db.Close()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
