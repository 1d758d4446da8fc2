package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/lodeclaim/internal/model"
)

// Dialect selects the SQL flavour of a store.
type Dialect string

const (
	DialectPostgres Dialect = "postgres" // PostGIS geometry column
	DialectSQLite   Dialect = "sqlite"   // GeoJSON text column
)

// range is a keyword in both dialects and stays quoted.
const claimColumns = "claim_id, jurisdiction, claimant, claim_name, claim_type, county, " +
	`township, "range", section, meridian, acreage, commodity, status_code, ` +
	"filed_date, expiration_date, fee_paid_through, lifecycle_state, lifecycle_reason, needs_review, " +
	"provenance, conflicts, geom"

// Store replaces the contents of one claims table per run.
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// NewStore wraps an open database.
func NewStore(db *sql.DB, dialect Dialect, table string) *Store {
	return &Store{db: db, dialect: dialect, table: table}
}

// OpenStore opens the database named by dsn. Supported schemes are
// postgres://, postgresql:// and sqlite://PATH.
func OpenStore(dsn, table string) (*Store, error) {
	if table == "" {
		return nil, errors.New("empty dataset name")
	}

	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return NewStore(db, DialectPostgres, table), nil

	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return nil, errors.New("sqlite dsn needs a file path")
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// One writer; a single connection avoids SQLITE_BUSY inside the replace transaction.
		db.SetMaxOpenConns(1)
		return NewStore(db, DialectSQLite, table), nil

	default:
		return nil, fmt.Errorf("unsupported database dsn %q (want postgres:// or sqlite://)", RedactDSN(dsn))
	}
}

// Dialect returns the store dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTableSQL() string {
	table := pq.QuoteIdentifier(s.table)
	if s.dialect == DialectPostgres {
		return `CREATE TABLE IF NOT EXISTS ` + table + ` (
	claim_id TEXT PRIMARY KEY,
	jurisdiction TEXT NOT NULL,
	claimant TEXT,
	claim_name TEXT,
	claim_type TEXT,
	county TEXT,
	township TEXT,
	"range" TEXT,
	section TEXT,
	meridian TEXT,
	acreage DOUBLE PRECISION,
	commodity TEXT,
	status_code TEXT,
	filed_date DATE,
	expiration_date DATE,
	fee_paid_through DATE,
	lifecycle_state TEXT NOT NULL,
	lifecycle_reason TEXT,
	needs_review BOOLEAN NOT NULL DEFAULT FALSE,
	provenance JSONB NOT NULL,
	conflicts JSONB,
	geom geometry(Geometry, 4326)
)`
	}
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
	claim_id TEXT PRIMARY KEY,
	jurisdiction TEXT NOT NULL,
	claimant TEXT,
	claim_name TEXT,
	claim_type TEXT,
	county TEXT,
	township TEXT,
	"range" TEXT,
	section TEXT,
	meridian TEXT,
	acreage REAL,
	commodity TEXT,
	status_code TEXT,
	filed_date TEXT,
	expiration_date TEXT,
	fee_paid_through TEXT,
	lifecycle_state TEXT NOT NULL,
	lifecycle_reason TEXT,
	needs_review INTEGER NOT NULL DEFAULT 0,
	provenance TEXT NOT NULL,
	conflicts TEXT,
	geom TEXT
)`
}

func (s *Store) deleteSQL() string {
	return "DELETE FROM " + pq.QuoteIdentifier(s.table)
}

func (s *Store) insertSQL() string {
	table := pq.QuoteIdentifier(s.table)
	if s.dialect == DialectPostgres {
		return "INSERT INTO " + table + " (" + claimColumns + ") VALUES " +
			"($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, " +
			"ST_SetSRID(ST_GeomFromGeoJSON($22), 4326))"
	}
	return "INSERT INTO " + table + " (" + claimColumns + ") VALUES " +
		"(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
}

// Replace swaps the table contents for claims in one transaction:
// create the table if missing, delete every row, insert the new set.
// On any error the previous contents are kept.
func (s *Store) Replace(ctx context.Context, claims []model.Claim) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.createTableSQL()); err != nil {
		return 0, fmt.Errorf("create table %s: %w", s.table, err)
	}
	if _, err := tx.ExecContext(ctx, s.deleteSQL()); err != nil {
		return 0, fmt.Errorf("clear table %s: %w", s.table, err)
	}

	insert := s.insertSQL()
	for _, c := range claims {
		args, err := s.rowArgs(c)
		if err != nil {
			return 0, fmt.Errorf("claim %s: %w", c.ClaimID, err)
		}
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			return 0, fmt.Errorf("insert claim %s: %w", c.ClaimID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(claims), nil
}

func (s *Store) rowArgs(c model.Claim) ([]any, error) {
	if err := checkCRS(c); err != nil {
		return nil, err
	}
	provenance, err := json.Marshal(c.Provenance)
	if err != nil {
		return nil, fmt.Errorf("marshal provenance: %w", err)
	}

	var conflicts any
	if len(c.Conflicts) > 0 {
		data, err := json.Marshal(c.Conflicts)
		if err != nil {
			return nil, fmt.Errorf("marshal conflicts: %w", err)
		}
		conflicts = string(data)
	}

	var geom any
	if c.Location != nil {
		data, err := json.Marshal(c.Location)
		if err != nil {
			return nil, fmt.Errorf("marshal geometry: %w", err)
		}
		geom = string(data)
	}

	var acreage any
	if c.Acreage != nil {
		acreage = *c.Acreage
	}

	var needsReview any = c.NeedsReview()
	if s.dialect == DialectSQLite {
		needsReview = 0
		if c.NeedsReview() {
			needsReview = 1
		}
	}

	return []any{
		c.ClaimID,
		c.Jurisdiction,
		nullString(c.Claimant),
		nullString(c.ClaimName),
		nullString(c.ClaimType),
		nullString(c.County),
		nullString(c.Township),
		nullString(c.Range),
		nullString(c.Section),
		nullString(c.Meridian),
		acreage,
		nullString(c.Commodity),
		nullString(c.StatusCode),
		nullString(model.FormatDate(c.FiledDate)),
		nullString(model.FormatDate(c.ExpirationDate)),
		nullString(model.FormatDate(c.FeePaidThrough)),
		c.Lifecycle.String(),
		nullString(c.LifecycleReason),
		needsReview,
		string(provenance),
		conflicts,
		geom,
	}, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// RedactDSN hides the password of a URL-style DSN.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
