package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"plate-lookup/internal/domain"
)

// Schema 三张表都以 community 列隔离社区（对应集合后缀）
const Schema = `
CREATE TABLE IF NOT EXISTS plates (
	community       TEXT NOT NULL DEFAULT '',
	plate_id        TEXT NOT NULL,
	household_code  TEXT NOT NULL DEFAULT '-',
	notes           TEXT NOT NULL DEFAULT '',
	search_keywords TEXT[] NOT NULL DEFAULT '{}',
	image_url       TEXT NOT NULL DEFAULT '',
	created_by      TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ,
	last_updated_by TEXT NOT NULL DEFAULT '',
	updated_at      TIMESTAMPTZ,
	PRIMARY KEY (community, plate_id)
);
CREATE INDEX IF NOT EXISTS plates_household_idx ON plates (community, household_code);
CREATE INDEX IF NOT EXISTS plates_keywords_gin ON plates USING GIN (search_keywords);

CREATE TABLE IF NOT EXISTS households (
	community      TEXT NOT NULL DEFAULT '',
	household_id   TEXT NOT NULL,
	name           TEXT NOT NULL DEFAULT '',
	features       TEXT NOT NULL DEFAULT '',
	parking_number TEXT NOT NULL DEFAULT '',
	parking        TEXT[] NOT NULL DEFAULT '{}',
	PRIMARY KEY (community, household_id)
);

CREATE TABLE IF NOT EXISTS parking_lookup (
	community  TEXT NOT NULL DEFAULT '',
	spot       TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ,
	PRIMARY KEY (community, spot)
);
`

type PostgresPlateStore struct {
	db *sql.DB
}

func NewPostgresPlateStore(db *sql.DB) *PostgresPlateStore {
	return &PostgresPlateStore{db: db}
}

// EnsureSchema 建表（幂等）
func (s *PostgresPlateStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const plateColumns = `plate_id, household_code, notes, search_keywords, image_url,
	created_by, created_at, last_updated_by, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlate(row rowScanner) (*domain.PlateRecord, error) {
	var p domain.PlateRecord
	var keywords pq.StringArray
	var createdAt, updatedAt sql.NullTime
	if err := row.Scan(
		&p.ID,
		&p.HouseholdCode,
		&p.Notes,
		&keywords,
		&p.ImageURL,
		&p.CreatedBy,
		&createdAt,
		&p.LastUpdatedBy,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	p.SearchKeywords = []string(keywords)
	if p.SearchKeywords == nil {
		p.SearchKeywords = []string{}
	}
	if createdAt.Valid {
		p.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		p.UpdatedAt = updatedAt.Time
	}
	return &p, nil
}

func (s *PostgresPlateStore) queryPlates(ctx context.Context, q string, args ...any) ([]*domain.PlateRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.PlateRecord{}
	for rows.Next() {
		p, err := scanPlate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresPlateStore) GetPlate(ctx context.Context, c domain.Community, plateID string) (*domain.PlateRecord, error) {
	q := `SELECT ` + plateColumns + ` FROM plates WHERE community = $1 AND plate_id = $2`
	p, err := scanPlate(s.db.QueryRowContext(ctx, q, c.Suffix, plateID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *PostgresPlateStore) ListPlatesByHousehold(ctx context.Context, c domain.Community, householdCode string) ([]*domain.PlateRecord, error) {
	q := `SELECT ` + plateColumns + ` FROM plates
		WHERE community = $1 AND household_code = $2
		ORDER BY plate_id`
	return s.queryPlates(ctx, q, c.Suffix, householdCode)
}

// ListPlatesByKeywords: search_keywords 与 terms 有交集即命中（array-contains-any）
func (s *PostgresPlateStore) ListPlatesByKeywords(ctx context.Context, c domain.Community, terms []string) ([]*domain.PlateRecord, error) {
	if len(terms) == 0 {
		return []*domain.PlateRecord{}, nil
	}
	q := `SELECT ` + plateColumns + ` FROM plates
		WHERE community = $1 AND search_keywords && $2
		ORDER BY plate_id`
	return s.queryPlates(ctx, q, c.Suffix, pq.Array(terms))
}

func (s *PostgresPlateStore) ListPlates(ctx context.Context, c domain.Community) ([]*domain.PlateRecord, error) {
	q := `SELECT ` + plateColumns + ` FROM plates WHERE community = $1 ORDER BY plate_id`
	return s.queryPlates(ctx, q, c.Suffix)
}

func (s *PostgresPlateStore) CountPlatesByHousehold(ctx context.Context, c domain.Community, householdCode string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM plates WHERE community = $1 AND household_code = $2`,
		c.Suffix, householdCode,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func scanHousehold(row rowScanner) (*domain.HouseholdRecord, error) {
	var h domain.HouseholdRecord
	var parking pq.StringArray
	if err := row.Scan(&h.ID, &h.Name, &h.Features, &h.ParkingNumber, &parking); err != nil {
		return nil, err
	}
	h.Parking = []string(parking)
	return &h, nil
}

func (s *PostgresPlateStore) GetHousehold(ctx context.Context, c domain.Community, householdID string) (*domain.HouseholdRecord, error) {
	q := `SELECT household_id, name, features, parking_number, parking
		FROM households WHERE community = $1 AND household_id = $2`
	h, err := scanHousehold(s.db.QueryRowContext(ctx, q, c.Suffix, householdID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return h, nil
}

func (s *PostgresPlateStore) ListHouseholds(ctx context.Context, c domain.Community) ([]*domain.HouseholdRecord, error) {
	q := `SELECT household_id, name, features, parking_number, parking
		FROM households WHERE community = $1 ORDER BY household_id`
	rows, err := s.db.QueryContext(ctx, q, c.Suffix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.HouseholdRecord{}
	for rows.Next() {
		h, err := scanHousehold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanParking(row rowScanner) (*domain.ParkingLookup, error) {
	var l domain.ParkingLookup
	var updatedAt sql.NullTime
	if err := row.Scan(&l.Spot, &l.OwnerID, &l.Note, &updatedAt); err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		l.UpdatedAt = updatedAt.Time
	}
	return &l, nil
}

func (s *PostgresPlateStore) GetParking(ctx context.Context, c domain.Community, spot string) (*domain.ParkingLookup, error) {
	q := `SELECT spot, owner_id, note, updated_at FROM parking_lookup WHERE community = $1 AND spot = $2`
	l, err := scanParking(s.db.QueryRowContext(ctx, q, c.Suffix, spot))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return l, nil
}

func (s *PostgresPlateStore) ListParking(ctx context.Context, c domain.Community) ([]*domain.ParkingLookup, error) {
	q := `SELECT spot, owner_id, note, updated_at FROM parking_lookup WHERE community = $1 ORDER BY spot`
	return s.queryParking(ctx, q, c.Suffix)
}

func (s *PostgresPlateStore) ListParkingByOwner(ctx context.Context, c domain.Community, ownerID string) ([]*domain.ParkingLookup, error) {
	q := `SELECT spot, owner_id, note, updated_at FROM parking_lookup
		WHERE community = $1 AND owner_id = $2 ORDER BY spot`
	return s.queryParking(ctx, q, c.Suffix, ownerID)
}

func (s *PostgresPlateStore) queryParking(ctx context.Context, q string, args ...any) ([]*domain.ParkingLookup, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.ParkingLookup{}
	for rows.Next() {
		l, err := scanParking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ============================================
// Batch：所有写操作在同一事务内提交
// ============================================

func (s *PostgresPlateStore) NewBatch(c domain.Community) Batch {
	return &postgresBatch{db: s.db, community: c}
}

type postgresBatch struct {
	opList
	db        *sql.DB
	community domain.Community
	committed bool
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func (b *postgresBatch) Commit(ctx context.Context) error {
	if b.committed {
		return fmt.Errorf("batch already committed")
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, op := range b.ops {
		if err := b.apply(ctx, tx, op); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	b.committed = true
	return nil
}

func (b *postgresBatch) apply(ctx context.Context, tx *sql.Tx, op batchOp) error {
	community := b.community.Suffix
	switch op.kind {
	case opSetPlate:
		p := op.plate
		_, err := tx.ExecContext(ctx, `
			INSERT INTO plates (community, `+plateColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (community, plate_id) DO UPDATE SET
				household_code = EXCLUDED.household_code,
				notes = EXCLUDED.notes,
				search_keywords = EXCLUDED.search_keywords,
				image_url = EXCLUDED.image_url,
				created_by = EXCLUDED.created_by,
				created_at = EXCLUDED.created_at,
				last_updated_by = EXCLUDED.last_updated_by,
				updated_at = EXCLUDED.updated_at`,
			community, p.ID, p.HouseholdCode, p.Notes, pq.Array(p.SearchKeywords), p.ImageURL,
			p.CreatedBy, nullTime(p.CreatedAt), p.LastUpdatedBy, nullTime(p.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("set plate %s: %w", p.ID, err)
		}

	case opUpdatePlate:
		u := op.update
		res, err := tx.ExecContext(ctx, `
			UPDATE plates
			SET household_code = $3, notes = $4, last_updated_by = $5, updated_at = $6
			WHERE community = $1 AND plate_id = $2`,
			community, op.key, u.HouseholdCode, u.Notes, u.LastUpdatedBy, nullTime(u.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("update plate %s: %w", op.key, err)
		}
		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update plate %s: %w", op.key, err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("update plate %s: %w", op.key, ErrNotFound)
		}

	case opDeletePlate:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM plates WHERE community = $1 AND plate_id = $2`,
			community, op.key,
		); err != nil {
			return fmt.Errorf("delete plate %s: %w", op.key, err)
		}

	case opSetHousehold, opMergeHousehold:
		h := op.household
		parking := h.Parking
		if parking == nil {
			parking = []string{}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO households (community, household_id, name, features, parking_number, parking)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (community, household_id) DO UPDATE SET
				name = EXCLUDED.name,
				features = EXCLUDED.features,
				parking_number = EXCLUDED.parking_number,
				parking = EXCLUDED.parking`,
			community, h.ID, h.Name, h.Features, h.ParkingNumber, pq.Array(parking),
		); err != nil {
			return fmt.Errorf("write household %s: %w", h.ID, err)
		}

	case opUpsertParking:
		l := op.parking
		// note 为空时保留原值
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO parking_lookup (community, spot, owner_id, note, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (community, spot) DO UPDATE SET
				owner_id = EXCLUDED.owner_id,
				note = COALESCE(NULLIF(EXCLUDED.note, ''), parking_lookup.note),
				updated_at = EXCLUDED.updated_at`,
			community, l.Spot, l.OwnerID, l.Note, nullTime(l.UpdatedAt),
		); err != nil {
			return fmt.Errorf("upsert parking %s: %w", l.Spot, err)
		}

	case opDeleteParking:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM parking_lookup WHERE community = $1 AND spot = $2`,
			community, op.key,
		); err != nil {
			return fmt.Errorf("delete parking %s: %w", op.key, err)
		}

	default:
		return fmt.Errorf("unknown batch op %d", op.kind)
	}
	return nil
}
