package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/linden-group/costmatch-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// The partial unique index on mapping_entries is what upholds the SCD2
// invariant: at most one active row per (tenant, key), enforced by the
// engine rather than application locking.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS priced_items (
	id                  TEXT PRIMARY KEY,
	tenant_id           TEXT NOT NULL,
	classification_code TEXT NOT NULL,
	vendor_id           TEXT NOT NULL,
	sku                 TEXT NOT NULL,
	description         TEXT NOT NULL,
	unit                TEXT NOT NULL,
	unit_price          TEXT NOT NULL,
	currency            TEXT NOT NULL,
	width_mm            REAL,
	height_mm           REAL,
	diameter_mm         REAL,
	angle_deg           REAL,
	material            TEXT,
	last_updated        DATETIME NOT NULL,
	vendor_note         TEXT,
	UNIQUE (tenant_id, vendor_id, sku)
);

CREATE TABLE IF NOT EXISTS mapping_entries (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	canonical_key  TEXT NOT NULL,
	priced_item_id TEXT NOT NULL REFERENCES priced_items(id),
	valid_from     DATETIME NOT NULL,
	valid_to       DATETIME,
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
	confidence          REAL NOT NULL,
	flags               TEXT,
	candidates          TEXT,
	decision            TEXT NOT NULL,
	provenance          TEXT,
	reason              TEXT NOT NULL,
	actor               TEXT NOT NULL,
	created_at          DATETIME NOT NULL
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Catalog

func (s *SQLiteStore) UpsertPricedItems(ctx context.Context, items []model.PricedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO priced_items (
			id, tenant_id, classification_code, vendor_id, sku, description,
			unit, unit_price, currency, width_mm, height_mm, diameter_mm,
			angle_deg, material, last_updated, vendor_note
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		RETURNING id`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	for i := range items {
		pi := &items[i]
		if pi.ID == "" {
			pi.ID = uuid.New().String()
		}
		// On the conflict path the stored row keeps its original id, so scan
		// the authoritative id back instead of trusting the one we generated.
		if err := stmt.QueryRowContext(ctx,
			pi.ID, pi.TenantID, pi.ClassificationCode, pi.VendorID, pi.SKU,
			pi.Description, pi.Unit, pi.UnitPrice.String(), pi.Currency,
			pi.WidthMM, pi.HeightMM, pi.DiameterMM, pi.AngleDeg,
			nullStr(pi.Material), pi.LastUpdated.UTC(), nullStr(pi.VendorNote),
		).Scan(&pi.ID); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert priced item %s/%s", pi.VendorID, pi.SKU)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert")
	}
	return len(items), nil
}

const pricedItemCols = `id, tenant_id, classification_code, vendor_id, sku,
	description, unit, unit_price, currency, width_mm, height_mm, diameter_mm,
	angle_deg, material, last_updated, vendor_note`

func (s *SQLiteStore) GetPricedItem(ctx context.Context, id string) (*model.PricedItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pricedItemCols+` FROM priced_items WHERE id = ?`, id)
	pi, err := scanPricedItem(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("priced item not found: %s", id)
	}
	return pi, err
}

func (s *SQLiteStore) CandidatesByClass(ctx context.Context, tenantID, code string, limit int) ([]model.PricedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pricedItemCols+` FROM priced_items
		 WHERE tenant_id = ? AND classification_code = ?
		 ORDER BY vendor_id, sku LIMIT ?`,
		tenantID, code, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: candidates by class")
	}
	return collectPricedItems(rows)
}

func (s *SQLiteStore) CandidatesByClassPrefix(ctx context.Context, tenantID, prefix, excludeCode string, limit int) ([]model.PricedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pricedItemCols+` FROM priced_items
		 WHERE tenant_id = ? AND classification_code LIKE ? || '%'
		   AND classification_code != ?
		 ORDER BY classification_code, vendor_id, sku LIMIT ?`,
		tenantID, prefix, excludeCode, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: candidates by class prefix")
	}
	return collectPricedItems(rows)
}

func (s *SQLiteStore) CatalogSize(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM priced_items WHERE tenant_id = ?`, tenantID).Scan(&n)
	return n, eris.Wrap(err, "sqlite: catalog size")
}

// Mapping memory

const mappingCols = `id, tenant_id, canonical_key, priced_item_id, valid_from, valid_to, created_by, reason`

func (s *SQLiteStore) ActiveMapping(ctx context.Context, tenantID, key string) (*model.MappingEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mappingCols+` FROM mapping_entries
		 WHERE tenant_id = ? AND canonical_key = ? AND valid_to IS NULL`,
		tenantID, key)
	entry, err := scanMapping(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: active mapping")
	}
	return entry, nil
}

func (s *SQLiteStore) WriteMapping(ctx context.Context, tenantID, key, pricedItemID, actor, reason string) (*model.MappingEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin mapping write")
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	// Close-then-insert in one transaction. The partial unique index rejects
	// a second active row if a concurrent writer commits between our UPDATE
	// and INSERT.
	if _, err := tx.ExecContext(ctx,
		`UPDATE mapping_entries SET valid_to = ?
		 WHERE tenant_id = ? AND canonical_key = ? AND valid_to IS NULL`,
		now, tenantID, key,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: close active mapping")
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

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mapping_entries (`+mappingCols+`) VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
		entry.ID, tenantID, key, pricedItemID, now, actor, reason,
	); err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, eris.Wrapf(ErrMappingConflict, "sqlite: %s/%s", tenantID, key)
		}
		return nil, eris.Wrap(err, "sqlite: insert mapping")
	}

	if err := tx.Commit(); err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, eris.Wrapf(ErrMappingConflict, "sqlite: %s/%s", tenantID, key)
		}
		return nil, eris.Wrap(err, "sqlite: commit mapping write")
	}
	return entry, nil
}

func (s *SQLiteStore) MappingAsOf(ctx context.Context, tenantID, key string, ts time.Time) (*model.MappingEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mappingCols+` FROM mapping_entries
		 WHERE tenant_id = ? AND canonical_key = ?
		   AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)`,
		tenantID, key, ts.UTC(), ts.UTC())
	entry, err := scanMapping(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: mapping as of")
	}
	return entry, nil
}

func (s *SQLiteStore) MappingHistory(ctx context.Context, tenantID, key string) ([]model.MappingEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+mappingCols+` FROM mapping_entries
		 WHERE tenant_id = ? AND canonical_key = ?
		 ORDER BY valid_from`,
		tenantID, key)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: mapping history")
	}
	defer rows.Close()

	var entries []model.MappingEntry
	for rows.Next() {
		e, err := scanMapping(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mapping history")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: mapping history iterate")
}

// Match results

func (s *SQLiteStore) InsertMatchResult(ctx context.Context, res *model.MatchResult) error {
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}

	flagsJSON, err := json.Marshal(res.Flags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal flags")
	}
	candsJSON, err := json.Marshal(res.Candidates)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal candidates")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO match_results (
			id, tenant_id, item_id, project_id, canonical_key,
			classification_code, priced_item_id, confidence, flags, candidates,
			decision, provenance, reason, actor, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.TenantID, res.ItemID, res.ProjectID, res.CanonicalKey,
		res.ClassificationCode, nullStr(res.PricedItemID), res.Confidence,
		string(flagsJSON), string(candsJSON), string(res.Decision),
		string(res.Provenance), res.Reason, res.Actor, res.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert match result")
}

func (s *SQLiteStore) ListMatchResults(ctx context.Context, filter ResultFilter) ([]model.MatchResult, error) {
	query := `SELECT id, tenant_id, item_id, project_id, canonical_key,
		classification_code, priced_item_id, confidence, flags, candidates,
		decision, provenance, reason, actor, created_at
		FROM match_results WHERE 1=1`
	var args []any

	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.ItemID != "" {
		query += ` AND item_id = ?`
		args = append(args, filter.ItemID)
	}
	if filter.Decision != "" {
		query += ` AND decision = ?`
		args = append(args, string(filter.Decision))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list match results")
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
	return results, eris.Wrap(rows.Err(), "sqlite: list match results iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanPricedItem(row scannable) (*model.PricedItem, error) {
	var pi model.PricedItem
	var price string
	var width, height, diameter, angle sql.NullFloat64
	var material, note sql.NullString

	err := row.Scan(
		&pi.ID, &pi.TenantID, &pi.ClassificationCode, &pi.VendorID, &pi.SKU,
		&pi.Description, &pi.Unit, &price, &pi.Currency,
		&width, &height, &diameter, &angle, &material, &pi.LastUpdated, &note,
	)
	if err != nil {
		return nil, err
	}

	if err := pi.UnitPrice.Scan(price); err != nil {
		return nil, eris.Wrapf(err, "store: parse unit price %q", price)
	}
	pi.WidthMM = nullFloat(width)
	pi.HeightMM = nullFloat(height)
	pi.DiameterMM = nullFloat(diameter)
	pi.AngleDeg = nullFloat(angle)
	pi.Material = material.String
	pi.VendorNote = note.String
	return &pi, nil
}

func collectPricedItems(rows *sql.Rows) ([]model.PricedItem, error) {
	defer rows.Close()
	var items []model.PricedItem
	for rows.Next() {
		pi, err := scanPricedItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan priced item")
		}
		items = append(items, *pi)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: priced items iterate")
}

func scanMapping(row scannable) (*model.MappingEntry, error) {
	var e model.MappingEntry
	var validTo sql.NullTime

	err := row.Scan(&e.ID, &e.TenantID, &e.CanonicalKey, &e.PricedItemID,
		&e.ValidFrom, &validTo, &e.CreatedBy, &e.Reason)
	if err != nil {
		return nil, err
	}
	if validTo.Valid {
		t := validTo.Time
		e.ValidTo = &t
	}
	return &e, nil
}

func scanMatchResult(row scannable) (*model.MatchResult, error) {
	var r model.MatchResult
	var pricedItemID, provenance sql.NullString
	var flagsJSON, candsJSON sql.NullString

	err := row.Scan(
		&r.ID, &r.TenantID, &r.ItemID, &r.ProjectID, &r.CanonicalKey,
		&r.ClassificationCode, &pricedItemID, &r.Confidence,
		&flagsJSON, &candsJSON, &r.Decision, &provenance, &r.Reason,
		&r.Actor, &r.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: scan match result")
	}

	r.PricedItemID = pricedItemID.String
	r.Provenance = model.Provenance(provenance.String)
	if flagsJSON.Valid && flagsJSON.String != "" {
		if err := json.Unmarshal([]byte(flagsJSON.String), &r.Flags); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal flags")
		}
	}
	if candsJSON.Valid && candsJSON.String != "" {
		if err := json.Unmarshal([]byte(candsJSON.String), &r.Candidates); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal candidates")
		}
	}
	return &r, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
