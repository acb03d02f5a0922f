package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pgQueries
	pool    db.Pool
	closeFn func()
}

// pgQueries holds the statements shared by the pool and open transactions.
type pgQueries struct {
	q db.Querier
}

type pgTx struct {
	pgQueries
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
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	s := newPostgresFromPool(pool)
	s.closeFn = pool.Close
	return s, nil
}

func newPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{q: pool}, pool: pool}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS properties (
	property_id        BIGSERIAL PRIMARY KEY,
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
	bathrooms          DOUBLE PRECISION,
	square_feet        INTEGER,
	estimated_value    NUMERIC(14,2),
	available_equity   NUMERIC(14,2),
	equity_percent     NUMERIC(5,2),
	total_loan_balance NUMERIC(14,2),
	annual_taxes       NUMERIC(12,2),
	in_foreclosure     BOOLEAN,
	foreclosure_stage  TEXT,
	is_listed_for_sale BOOLEAN,
	is_active          BOOLEAN NOT NULL DEFAULT TRUE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS owners (
	owner_id           BIGSERIAL PRIMARY KEY,
	property_id        BIGINT NOT NULL REFERENCES properties(property_id) ON DELETE CASCADE,
	first_name         TEXT,
	last_name          TEXT,
	full_name          TEXT,
	owner_type         TEXT NOT NULL DEFAULT 'PRIMARY',
	is_primary_contact BOOLEAN NOT NULL DEFAULT FALSE,
	has_phone          BOOLEAN NOT NULL DEFAULT FALSE,
	has_email          BOOLEAN NOT NULL DEFAULT FALSE,
	mail_address       TEXT,
	mail_city          TEXT,
	mail_state         TEXT,
	mail_zip           TEXT,
	is_active          BOOLEAN NOT NULL DEFAULT TRUE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS loans (
	loan_id           BIGSERIAL PRIMARY KEY,
	property_id       BIGINT NOT NULL REFERENCES properties(property_id) ON DELETE CASCADE,
	first_amount      NUMERIC(14,2),
	first_rate        NUMERIC(5,3) NOT NULL DEFAULT 0,
	first_rate_type   TEXT,
	first_loan_type   TEXT,
	first_date        TIMESTAMPTZ,
	first_lender      TEXT,
	second_amount     NUMERIC(14,2),
	second_rate       NUMERIC(5,3) NOT NULL DEFAULT 0,
	second_rate_type  TEXT,
	second_loan_type  TEXT,
	second_date       TIMESTAMPTZ,
	total_balance     NUMERIC(14,2),
	ltv               NUMERIC(5,2),
	estimated_payment NUMERIC(12,2),
	is_active         BOOLEAN NOT NULL DEFAULT TRUE,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- History tables copy the entity's columns, not its keys or defaults.
CREATE TABLE IF NOT EXISTS property_history (
	history_id  BIGSERIAL PRIMARY KEY,
	LIKE properties,
	archived_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS property_owner_history (
	history_id  BIGSERIAL PRIMARY KEY,
	LIKE owners,
	archived_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS loan_history (
	history_id  BIGSERIAL PRIMARY KEY,
	LIKE loans,
	archived_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ingestion_units (
	unit_id           BIGSERIAL PRIMARY KEY,
	kind              TEXT NOT NULL,
	name              TEXT NOT NULL DEFAULT '',
	source_path       TEXT NOT NULL DEFAULT '',
	criteria          JSONB,
	campaign_id       BIGINT,
	provider_id       TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'PENDING'
		CHECK (status IN ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED')),
	priority          INTEGER NOT NULL DEFAULT 0,
	parent_id         BIGINT REFERENCES ingestion_units(unit_id) ON DELETE CASCADE,
	is_parent         BOOLEAN NOT NULL DEFAULT FALSE,
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
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at        TIMESTAMPTZ,
	requeued_at       TIMESTAMPTZ,
	processed_at      TIMESTAMPTZ,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS unit_logs (
	log_id      BIGSERIAL PRIMARY KEY,
	unit_id     BIGINT NOT NULL REFERENCES ingestion_units(unit_id) ON DELETE CASCADE,
	level       TEXT NOT NULL,
	radar_id    TEXT NOT NULL DEFAULT '',
	error_class TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dnm_registry (
	dnm_id      BIGSERIAL PRIMARY KEY,
	loan_id     BIGINT,
	property_id BIGINT,
	radar_id    TEXT,
	reason      TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL,
	blocked_by  TEXT NOT NULL,
	blocked_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	is_active   BOOLEAN NOT NULL DEFAULT TRUE,
	removed_by  TEXT,
	removed_at  TIMESTAMPTZ,
	CHECK (loan_id IS NOT NULL OR property_id IS NOT NULL OR radar_id IS NOT NULL)
);

CREATE TABLE IF NOT EXISTS campaigns (
	campaign_id BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	mail_date   TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaign_recipients (
	recipient_id   BIGSERIAL PRIMARY KEY,
	campaign_id    BIGINT NOT NULL REFERENCES campaigns(campaign_id) ON DELETE CASCADE,
	generation_id  TEXT NOT NULL,
	property_id    BIGINT NOT NULL REFERENCES properties(property_id),
	owner_id       BIGINT NOT NULL,
	loan_id        BIGINT,
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
	loan_balance   NUMERIC(14,2),
	loan_rate      NUMERIC(5,3) NOT NULL DEFAULT 0,
	close_month    TEXT NOT NULL,
	skip_month     TEXT NOT NULL,
	next_pay_month TEXT NOT NULL,
	mail_date      TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_properties_state ON properties(state);
CREATE INDEX IF NOT EXISTS idx_owners_property ON owners(property_id);
CREATE INDEX IF NOT EXISTS idx_loans_property_active ON loans(property_id, is_active);
CREATE INDEX IF NOT EXISTS idx_property_history_property ON property_history(property_id);
CREATE INDEX IF NOT EXISTS idx_owner_history_property ON property_owner_history(property_id);
CREATE INDEX IF NOT EXISTS idx_loan_history_loan ON loan_history(loan_id);
CREATE INDEX IF NOT EXISTS idx_loan_history_property ON loan_history(property_id);
CREATE INDEX IF NOT EXISTS idx_units_claim ON ingestion_units(priority DESC, created_at, unit_id)
	WHERE status = 'PENDING' AND NOT is_parent;
CREATE INDEX IF NOT EXISTS idx_units_status ON ingestion_units(status);
CREATE INDEX IF NOT EXISTS idx_units_parent ON ingestion_units(parent_id);
CREATE INDEX IF NOT EXISTS idx_unit_logs_unit ON unit_logs(unit_id, log_id);
CREATE INDEX IF NOT EXISTS idx_dnm_loan ON dnm_registry(loan_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_dnm_property ON dnm_registry(property_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_dnm_radar ON dnm_registry(radar_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_recipients_campaign ON campaign_recipients(campaign_id);
CREATE INDEX IF NOT EXISTS idx_recipients_property ON campaign_recipients(property_id);
`

// Migrate creates the schema. It is safe to run repeatedly.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// WithTx runs fn in a transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{pgQueries{q: tx}}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*pgTx)(nil)
)
