package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/linden-group/costmatch-cli/internal/db"
	"github.com/linden-group/costmatch-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS priced_items (
	id                  TEXT PRIMARY KEY,
	tenant_id           TEXT NOT NULL,
	classification_code TEXT NOT NULL,
	vendor_id           TEXT NOT NULL,
	sku                 TEXT NOT NULL,
	description         TEXT NOT NULL,
	unit                TEXT NOT NULL,
	unit_price          NUMERIC(18,4) NOT NULL,
	currency            TEXT NOT NULL,
	width_mm            DOUBLE PRECISION,
	height_mm           DOUBLE PRECISION,
	diameter_mm         DOUBLE PRECISION,
	angle_deg           DOUBLE PRECISION,
	material            TEXT,
	last_updated        TIMESTAMPTZ NOT NULL,
	vendor_note         TEXT,
	UNIQUE (tenant_id, vendor_id, sku)
);

CREATE TABLE IF NOT EXISTS mapping_entries (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	canonical_key  TEXT NOT NULL,
	priced_item_id TEXT NOT NULL REFERENCES priced_items(id),
	valid_from     TIMESTAMPTZ NOT NULL,
	valid_to       TIMESTAMPTZ,
	created_by     TEXT NOT NULL,
	reason         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS match_results (
	id                  TEXT PRIMARY KEY,
	tenant_id           TEXT NOT NULL,
	item_id             TEXT NOT NULL,
	project_id          TEXT,
	canonical_key       TEXT,
	classification_code TEXT,
	priced_item_id      TEXT,
	confidence          DOUBLE PRECISION NOT NULL,
	flags               JSONB,
	candidates          JSONB,
	decision            TEXT NOT NULL,
	provenance          TEXT,
	reason              TEXT NOT NULL,
	actor               TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_priced_items_class
	ON priced_items(tenant_id, classification_code);
CREATE UNIQUE INDEX IF NOT EXISTS idx_mapping_active
	ON mapping_entries(tenant_id, canonical_key) WHERE valid_to IS NULL;
CREATE INDEX IF NOT EXISTS idx_mapping_key
	ON mapping_entries(tenant_id, canonical_key, valid_from);
CREATE INDEX IF NOT EXISTS idx_match_results_item
	ON match_results(tenant_id, item_id, created_at);
CREATE INDEX IF NOT EXISTS idx_match_results_decision
	ON match_results(tenant_id, decision);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Catalog

func (s *PostgresStore) UpsertPricedItems(ctx context.Context, items []model.PricedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin upsert")
	}
	defer tx.Rollback(ctx)

	const upsertSQL = `
		INSERT INTO priced_items (
			id, tenant_id, classification_code, vendor_id, sku, description,
			unit, unit_price, currency, width_mm, height_mm, diameter_mm,
			angle_deg, material, last_updated, vendor_note
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (tenant_id, vendor_id, sku) DO UPDATE SET
			classification_code = excluded.classification_code,
			description         = excluded.description,
			unit                = excluded.unit,
			unit_price          = excluded.unit_price,
			currency            = excluded.currency,
			width_mm            = excluded.width_mm,
			height_mm           = excluded.height_mm,
			diameter_mm         = excluded.diameter_mm,
			angle_deg           = excluded.angle_deg,
			material            = excluded.material,
			last_updated        = excluded.last_updated,
			vendor_note         = excluded.vendor_note
		RETURNING id`

	for i := range items {
		pi := &items[i]
		if pi.ID == "" {
			pi.ID = uuid.New().String()
		}
		// On the conflict path the stored row keeps its original id, so scan
		// the authoritative id back instead of trusting the one we generated.
		if err := tx.QueryRow(ctx, upsertSQL,
			pi.ID, pi.TenantID, pi.ClassificationCode, pi.VendorID, pi.SKU,
			pi.Description, pi.Unit, pi.UnitPrice.String(), pi.Currency,
			pi.WidthMM, pi.HeightMM, pi.DiameterMM, pi.AngleDeg,
			nullStr(pi.Material), pi.LastUpdated.UTC(), nullStr(pi.VendorNote),
		).Scan(&pi.ID); err != nil {
			return 0, eris.Wrapf(err, "postgres: upsert priced item %s/%s", pi.VendorID, pi.SKU)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit upsert")
	}
	return len(items), nil
}

const pgPricedItemCols = `id, tenant_id, classification_code, vendor_id, sku,
	description, unit, unit_price::text, currency, width_mm, height_mm,
	diameter_mm, angle_deg, material, last_updated, vendor_note`

func (s *PostgresStore) GetPricedItem(ctx context.Context, id string) (*model.PricedItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgPricedItemCols+` FROM priced_items WHERE id = $1`, id)
	pi, err := scanPricedItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("priced item not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get priced item")
	}
	return pi, nil
}

func (s *PostgresStore) CandidatesByClass(ctx context.Context, tenantID, code string, limit int) ([]model.PricedItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgPricedItemCols+` FROM priced_items
		 WHERE tenant_id = $1 AND classification_code = $2
		 ORDER BY vendor_id, sku LIMIT $3`,
		tenantID, code, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: candidates by class")
	}
	return collectPGPricedItems(rows)
}

func (s *PostgresStore) CandidatesByClassPrefix(ctx context.Context, tenantID, prefix, excludeCode string, limit int) ([]model.PricedItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgPricedItemCols+` FROM priced_items
		 WHERE tenant_id = $1 AND classification_code LIKE $2 || '%'
		   AND classification_code != $3
		 ORDER BY classification_code, vendor_id, sku LIMIT $4`,
		tenantID, prefix, excludeCode, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: candidates by class prefix")
	}
	return collectPGPricedItems(rows)
}

func (s *PostgresStore) CatalogSize(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM priced_items WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, eris.Wrap(err, "postgres: catalog size")
}

// Mapping memory

func (s *PostgresStore) ActiveMapping(ctx context.Context, tenantID, key string) (*model.MappingEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+mappingCols+` FROM mapping_entries
		 WHERE tenant_id = $1 AND canonical_key = $2 AND valid_to IS NULL`,
		tenantID, key)
	entry, err := scanMapping(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active mapping")
	}
	return entry, nil
}

func (s *PostgresStore) WriteMapping(ctx context.Context, tenantID, key, pricedItemID, actor, reason string) (*model.MappingEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin mapping write")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	if _, err := tx.Exec(ctx,
		`UPDATE mapping_entries SET valid_to = $1
		 WHERE tenant_id = $2 AND canonical_key = $3 AND valid_to IS NULL`,
		now, tenantID, key,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: close active mapping")
	}

	entry := &model.MappingEntry{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		CanonicalKey: key,
		PricedItemID: pricedItemID,
		ValidFrom:    now,
		CreatedBy:    actor,
		Reason:       reason,
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO mapping_entries (`+mappingCols+`)
		 VALUES ($1, $2, $3, $4, $5, NULL, $6, $7)`,
		entry.ID, tenantID, key, pricedItemID, now, actor, reason,
	); err != nil {
		if isPGUniqueViolation(err) {
			return nil, eris.Wrapf(ErrMappingConflict, "postgres: %s/%s", tenantID, key)
		}
		return nil, eris.Wrap(err, "postgres: insert mapping")
	}

	if err := tx.Commit(ctx); err != nil {
		if isPGUniqueViolation(err) {
			return nil, eris.Wrapf(ErrMappingConflict, "postgres: %s/%s", tenantID, key)
		}
		return nil, eris.Wrap(err, "postgres: commit mapping write")
	}
	return entry, nil
}

func (s *PostgresStore) MappingAsOf(ctx context.Context, tenantID, key string, ts time.Time) (*model.MappingEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+mappingCols+` FROM mapping_entries
		 WHERE tenant_id = $1 AND canonical_key = $2
		   AND valid_from <= $3 AND (valid_to IS NULL OR valid_to > $3)`,
		tenantID, key, ts.UTC())
	entry, err := scanMapping(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: mapping as of")
	}
	return entry, nil
}

func (s *PostgresStore) MappingHistory(ctx context.Context, tenantID, key string) ([]model.MappingEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+mappingCols+` FROM mapping_entries
		 WHERE tenant_id = $1 AND canonical_key = $2
		 ORDER BY valid_from`,
		tenantID, key)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: mapping history")
	}
	defer rows.Close()

	var entries []model.MappingEntry
	for rows.Next() {
		e, err := scanMapping(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan mapping history")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: mapping history iterate")
}

// Match results

func (s *PostgresStore) InsertMatchResult(ctx context.Context, res *model.MatchResult) error {
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}

	flagsJSON, err := json.Marshal(res.Flags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal flags")
	}
	candsJSON, err := json.Marshal(res.Candidates)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal candidates")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO match_results (
			id, tenant_id, item_id, project_id, canonical_key,
			classification_code, priced_item_id, confidence, flags, candidates,
			decision, provenance, reason, actor, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		res.ID, res.TenantID, res.ItemID, res.ProjectID, res.CanonicalKey,
		res.ClassificationCode, nullStr(res.PricedItemID), res.Confidence,
		string(flagsJSON), string(candsJSON), string(res.Decision),
		string(res.Provenance), res.Reason, res.Actor, res.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert match result")
}

func (s *PostgresStore) ListMatchResults(ctx context.Context, filter ResultFilter) ([]model.MatchResult, error) {
	query := `SELECT id, tenant_id, item_id, project_id, canonical_key,
		classification_code, priced_item_id, confidence, flags::text,
		candidates::text, decision, provenance, reason, actor, created_at
		FROM match_results WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.TenantID != "" {
		query += ` AND tenant_id = ` + arg(filter.TenantID)
	}
	if filter.ItemID != "" {
		query += ` AND item_id = ` + arg(filter.ItemID)
	}
	if filter.Decision != "" {
		query += ` AND decision = ` + arg(string(filter.Decision))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list match results")
	}
	defer rows.Close()

	var results []model.MatchResult
	for rows.Next() {
		r, err := scanMatchResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list match results iterate")
}

// helpers

func collectPGPricedItems(rows pgx.Rows) ([]model.PricedItem, error) {
	defer rows.Close()
	var items []model.PricedItem
	for rows.Next() {
		pi, err := scanPricedItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan priced item")
		}
		items = append(items, *pi)
	}
	return items, eris.Wrap(rows.Err(), "postgres: priced items iterate")
}

func isPGUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
