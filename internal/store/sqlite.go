package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using modernc.org/sqlite. It holds a single
// connection, so writes are serialized and row locks are unnecessary.
type SQLiteStore struct {
	sqliteQueries
	db *sql.DB
}

type sqliteQueries struct {
	q sqlQuerier
}

type sqliteTx struct {
	sqliteQueries
}

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)" +
	"&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_time_format=sqlite"

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&" + sqlitePragmas
	} else {
		dsn += "?" + sqlitePragmas
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{sqliteQueries: sqliteQueries{q: db}, db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS properties (
	property_id        INTEGER PRIMARY KEY AUTOINCREMENT,
	radar_id           TEXT NOT NULL UNIQUE,
	provider_id        TEXT NOT NULL,
	apn                TEXT,
	address            TEXT,
	city               TEXT,
	state              TEXT,
	zip                TEXT,
	county             TEXT,
	property_type      TEXT,
	year_built         INTEGER,
	bedrooms           INTEGER,
	bathrooms          REAL,
	square_feet        INTEGER,
	estimated_value    REAL,
	available_equity   REAL,
	equity_percent     REAL,
	total_loan_balance REAL,
	annual_taxes       REAL,
	in_foreclosure     BOOLEAN,
	foreclosure_stage  TEXT,
	is_listed_for_sale BOOLEAN,
	is_active          BOOLEAN NOT NULL DEFAULT 1,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS owners (
	owner_id           INTEGER PRIMARY KEY AUTOINCREMENT,
	property_id        INTEGER NOT NULL REFERENCES properties(property_id) ON DELETE CASCADE,
	first_name         TEXT,
	last_name          TEXT,
	full_name          TEXT,
	owner_type         TEXT NOT NULL DEFAULT 'PRIMARY',
	is_primary_contact BOOLEAN NOT NULL DEFAULT 0,
	has_phone          BOOLEAN NOT NULL DEFAULT 0,
	has_email          BOOLEAN NOT NULL DEFAULT 0,
	mail_address       TEXT,
	mail_city          TEXT,
	mail_state         TEXT,
	mail_zip           TEXT,
	is_active          BOOLEAN NOT NULL DEFAULT 1,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS loans (
	loan_id           INTEGER PRIMARY KEY AUTOINCREMENT,
	property_id       INTEGER NOT NULL REFERENCES properties(property_id) ON DELETE CASCADE,
	first_amount      REAL,
	first_rate        REAL NOT NULL DEFAULT 0,
	first_rate_type   TEXT,
	first_loan_type   TEXT,
	first_date        DATETIME,
	first_lender      TEXT,
	second_amount     REAL,
	second_rate       REAL NOT NULL DEFAULT 0,
	second_rate_type  TEXT,
	second_loan_type  TEXT,
	second_date       DATETIME,
	total_balance     REAL,
	ltv               REAL,
	estimated_payment REAL,
	is_active         BOOLEAN NOT NULL DEFAULT 1,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS property_history (
	history_id         INTEGER PRIMARY KEY AUTOINCREMENT,
	property_id        INTEGER NOT NULL,
	radar_id           TEXT NOT NULL,
	provider_id        TEXT NOT NULL,
	apn                TEXT,
	address            TEXT,
	city               TEXT,
	state              TEXT,
	zip                TEXT,
	county             TEXT,
	property_type      TEXT,
	year_built         INTEGER,
	bedrooms           INTEGER,
	bathrooms          REAL,
	square_feet        INTEGER,
	estimated_value    REAL,
	available_equity   REAL,
	equity_percent     REAL,
	total_loan_balance REAL,
	annual_taxes       REAL,
	in_foreclosure     BOOLEAN,
	foreclosure_stage  TEXT,
	is_listed_for_sale BOOLEAN,
	is_active          BOOLEAN NOT NULL,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL,
	archived_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS property_owner_history (
	history_id         INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id           INTEGER NOT NULL,
	property_id        INTEGER NOT NULL,
	first_name         TEXT,
	last_name          TEXT,
	full_name          TEXT,
	owner_type         TEXT NOT NULL,
	is_primary_contact BOOLEAN NOT NULL,
	has_phone          BOOLEAN NOT NULL,
	has_email          BOOLEAN NOT NULL,
	mail_address       TEXT,
	mail_city          TEXT,
	mail_state         TEXT,
	mail_zip           TEXT,
	is_active          BOOLEAN NOT NULL,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL,
	archived_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS loan_history (
	history_id        INTEGER PRIMARY KEY AUTOINCREMENT,
	loan_id           INTEGER NOT NULL,
	property_id       INTEGER NOT NULL,
	first_amount      REAL,
	first_rate        REAL NOT NULL,
	first_rate_type   TEXT,
	first_loan_type   TEXT,
	first_date        DATETIME,
	first_lender      TEXT,
	second_amount     REAL,
	second_rate       REAL NOT NULL,
	second_rate_type  TEXT,
	second_loan_type  TEXT,
	second_date       DATETIME,
	total_balance     REAL,
	ltv               REAL,
	estimated_payment REAL,
	is_active         BOOLEAN NOT NULL,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	archived_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ingestion_units (
	unit_id           INTEGER PRIMARY KEY AUTOINCREMENT,
	kind              TEXT NOT NULL,
	name              TEXT NOT NULL DEFAULT '',
	source_path       TEXT NOT NULL DEFAULT '',
	criteria          TEXT,
	campaign_id       INTEGER,
	provider_id       TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'PENDING'
		CHECK (status IN ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED')),
	priority          INTEGER NOT NULL DEFAULT 0,
	parent_id         INTEGER REFERENCES ingestion_units(unit_id) ON DELETE CASCADE,
	is_parent         BOOLEAN NOT NULL DEFAULT 0,
	batch_number      INTEGER NOT NULL DEFAULT 0,
	batch_offset      INTEGER NOT NULL DEFAULT 0,
	batch_size        INTEGER NOT NULL DEFAULT 0,
	properties_count  INTEGER NOT NULL DEFAULT 0,
	processed_records INTEGER NOT NULL DEFAULT 0,
	success_count     INTEGER NOT NULL DEFAULT 0,
	error_count       INTEGER NOT NULL DEFAULT 0,
	error_details     TEXT NOT NULL DEFAULT '',
	claimed_by        TEXT NOT NULL DEFAULT '',
	claim_token       TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL,
	started_at        DATETIME,
	requeued_at       DATETIME,
	processed_at      DATETIME,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS unit_logs (
	log_id      INTEGER PRIMARY KEY AUTOINCREMENT,
	unit_id     INTEGER NOT NULL REFERENCES ingestion_units(unit_id) ON DELETE CASCADE,
	level       TEXT NOT NULL,
	radar_id    TEXT NOT NULL DEFAULT '',
	error_class TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS dnm_registry (
	dnm_id      INTEGER PRIMARY KEY AUTOINCREMENT,
	loan_id     INTEGER,
	property_id INTEGER,
	radar_id    TEXT,
	reason      TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL,
	blocked_by  TEXT NOT NULL,
	blocked_at  DATETIME NOT NULL,
	is_active   BOOLEAN NOT NULL DEFAULT 1,
	removed_by  TEXT,
	removed_at  DATETIME,
	CHECK (loan_id IS NOT NULL OR property_id IS NOT NULL OR radar_id IS NOT NULL)
);

CREATE TABLE IF NOT EXISTS campaigns (
	campaign_id INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	mail_date   DATETIME NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS campaign_recipients (
	recipient_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	campaign_id    INTEGER NOT NULL REFERENCES campaigns(campaign_id) ON DELETE CASCADE,
	generation_id  TEXT NOT NULL,
	property_id    INTEGER NOT NULL REFERENCES properties(property_id),
	owner_id       INTEGER NOT NULL,
	loan_id        INTEGER,
	radar_id       TEXT NOT NULL,
	owner_name     TEXT NOT NULL DEFAULT '',
	mail_address   TEXT NOT NULL DEFAULT '',
	mail_city      TEXT NOT NULL DEFAULT '',
	mail_state     TEXT NOT NULL DEFAULT '',
	mail_zip       TEXT NOT NULL DEFAULT '',
	address        TEXT NOT NULL DEFAULT '',
	city           TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT '',
	zip            TEXT NOT NULL DEFAULT '',
	loan_balance   REAL,
	loan_rate      REAL NOT NULL DEFAULT 0,
	close_month    TEXT NOT NULL,
	skip_month     TEXT NOT NULL,
	next_pay_month TEXT NOT NULL,
	mail_date      DATETIME NOT NULL,
	created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_properties_state ON properties(state);
CREATE INDEX IF NOT EXISTS idx_owners_property ON owners(property_id);
CREATE INDEX IF NOT EXISTS idx_loans_property_active ON loans(property_id, is_active);
CREATE INDEX IF NOT EXISTS idx_property_history_property ON property_history(property_id);
CREATE INDEX IF NOT EXISTS idx_owner_history_property ON property_owner_history(property_id);
CREATE INDEX IF NOT EXISTS idx_loan_history_loan ON loan_history(loan_id);
CREATE INDEX IF NOT EXISTS idx_loan_history_property ON loan_history(property_id);
CREATE INDEX IF NOT EXISTS idx_units_claim ON ingestion_units(status, priority DESC, created_at, unit_id);
CREATE INDEX IF NOT EXISTS idx_units_parent ON ingestion_units(parent_id);
CREATE INDEX IF NOT EXISTS idx_unit_logs_unit ON unit_logs(unit_id, log_id);
CREATE INDEX IF NOT EXISTS idx_dnm_loan ON dnm_registry(loan_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_dnm_property ON dnm_registry(property_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_dnm_radar ON dnm_registry(radar_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_recipients_campaign ON campaign_recipients(campaign_id);
`

// Migrate creates the schema. It is safe to run repeatedly.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn in a transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{sqliteQueries{q: tx}}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Tx    = (*sqliteTx)(nil)
)
