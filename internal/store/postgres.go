package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/listpull-cli/internal/db"
	"github.com/sells-group/listpull-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations.
var preparedStatements = map[string]string{
	"record_pull": `UPDATE geo_units SET pulled_at = now(), yield = $1
		WHERE tenant = $2 AND month = $3 AND unit_code = $4 AND pulled_at IS NULL`,
	"unit_exists": `SELECT 1 FROM geo_units WHERE tenant = $1 AND month = $2 AND unit_code = $3`,
	"get_batch": `SELECT id, tenant, month, week, scheduled_for, contact_count, high_value_count,
		status, notified_at, approved_by, approved_at, delivered_count, delivery_error, created_at
		FROM weekly_batches WHERE id = $1`,
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS geo_units (
	tenant       TEXT NOT NULL,
	month        TEXT NOT NULL,
	unit_code    TEXT NOT NULL,
	region       TEXT NOT NULL,
	batch_number INT NOT NULL DEFAULT 0,
	pulled_at    TIMESTAMPTZ,
	yield        INT NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant, month, unit_code)
);

CREATE INDEX IF NOT EXISTS idx_geo_units_unpulled ON geo_units(tenant, month) WHERE pulled_at IS NULL;

CREATE TABLE IF NOT EXISTS classified_contacts (
	id                 TEXT PRIMARY KEY,
	source_tenant      TEXT NOT NULL,
	month              TEXT NOT NULL,
	destination_tenant TEXT,
	first_name         TEXT,
	last_name          TEXT,
	email              TEXT,
	property_state     TEXT,
	property_zip       TEXT,
	home_value         DOUBLE PRECISION NOT NULL DEFAULT 0,
	high_value         BOOLEAN NOT NULL DEFAULT false,
	eligible           BOOLEAN NOT NULL DEFAULT false,
	filter_reason      TEXT,
	upload_batch_id    TEXT,
	weekly_batch_id    TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source_tenant, month, email, property_zip)
);

CREATE INDEX IF NOT EXISTS idx_contacts_delivery ON classified_contacts(destination_tenant, month) WHERE eligible;
CREATE INDEX IF NOT EXISTS idx_contacts_batch ON classified_contacts(weekly_batch_id);

CREATE TABLE IF NOT EXISTS weekly_batches (
	id               TEXT PRIMARY KEY,
	tenant           TEXT NOT NULL,
	month            TEXT NOT NULL,
	week             INT NOT NULL,
	scheduled_for    TIMESTAMPTZ NOT NULL,
	contact_count    INT NOT NULL DEFAULT 0,
	high_value_count INT NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'pending',
	notified_at      TIMESTAMPTZ,
	approved_by      TEXT,
	approved_at      TIMESTAMPTZ,
	delivered_count  INT NOT NULL DEFAULT 0,
	delivery_error   TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant, month, week)
);

CREATE INDEX IF NOT EXISTS idx_batches_status ON weekly_batches(status);

CREATE TABLE IF NOT EXISTS audit_log (
	id        BIGSERIAL PRIMARY KEY,
	tenant    TEXT,
	entity    TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	action    TEXT NOT NULL,
	actor     TEXT,
	outcome   TEXT NOT NULL,
	detail    TEXT,
	at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity, entity_id);
`

// Migrate applies the embedded schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// AssignUnits replaces the tenant/month assignment wholesale: delete then
// COPY the fresh unit list in one transaction.
func (s *PostgresStore) AssignUnits(ctx context.Context, tenant string, month model.Month, units []model.GeoUnit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: assign units: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`DELETE FROM geo_units WHERE tenant = $1 AND month = $2`,
		tenant, string(month),
	); err != nil {
		return eris.Wrapf(err, "postgres: clear assignment %s/%s", tenant, month)
	}

	rows := make([][]any, len(units))
	for i, u := range units {
		rows[i] = []any{tenant, string(month), u.UnitCode, u.Region, u.BatchNumber}
	}
	if _, err := db.CopyFrom(ctx, tx, "geo_units",
		[]string{"tenant", "month", "unit_code", "region", "batch_number"},
		rows,
	); err != nil {
		return eris.Wrapf(err, "postgres: copy assignment %s/%s", tenant, month)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: assign units: commit")
}

// Assignment returns every unit assigned to the tenant for the month.
func (s *PostgresStore) Assignment(ctx context.Context, tenant string, month model.Month) ([]model.GeoUnit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tenant, month, unit_code, region, batch_number, pulled_at, yield
		 FROM geo_units WHERE tenant = $1 AND month = $2 ORDER BY batch_number, unit_code`,
		tenant, string(month),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: assignment %s/%s", tenant, month)
	}
	defer rows.Close()
	return scanUnits(rows)
}

// RecordPull conditionally marks units pulled. Per-unit compare-and-set on
// pulled_at keeps concurrent uploads for different batches safe; units
// missing from the assignment come back in the report instead of being
// silently dropped.
func (s *PostgresStore) RecordPull(ctx context.Context, tenant string, month model.Month, yieldByUnit map[string]int) (*PullReport, error) {
	report := &PullReport{Requested: len(yieldByUnit)}

	units := make([]string, 0, len(yieldByUnit))
	for u := range yieldByUnit {
		units = append(units, u)
	}
	sort.Strings(units)

	for _, unit := range units {
		tag, err := s.pool.Exec(ctx,
			`UPDATE geo_units SET pulled_at = now(), yield = $1
			 WHERE tenant = $2 AND month = $3 AND unit_code = $4 AND pulled_at IS NULL`,
			yieldByUnit[unit], tenant, string(month), unit,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: record pull %s/%s unit %s", tenant, month, unit)
		}
		if tag.RowsAffected() == 1 {
			report.Applied = append(report.Applied, unit)
			continue
		}

		var one int
		err = s.pool.QueryRow(ctx,
			`SELECT 1 FROM geo_units WHERE tenant = $1 AND month = $2 AND unit_code = $3`,
			tenant, string(month), unit,
		).Scan(&one)
		switch {
		case err == nil:
			report.AlreadyPulled = append(report.AlreadyPulled, unit)
		case errors.Is(err, pgx.ErrNoRows):
			report.Unknown = append(report.Unknown, unit)
		default:
			return nil, eris.Wrapf(err, "postgres: check unit %s/%s/%s", tenant, month, unit)
		}
	}

	return report, nil
}

// UnpulledUnits returns assignment entries with null pulled_at.
func (s *PostgresStore) UnpulledUnits(ctx context.Context, tenant string, month model.Month) ([]model.GeoUnit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tenant, month, unit_code, region, batch_number, pulled_at, yield
		 FROM geo_units WHERE tenant = $1 AND month = $2 AND pulled_at IS NULL
		 ORDER BY batch_number, unit_code`,
		tenant, string(month),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: unpulled units %s/%s", tenant, month)
	}
	defer rows.Close()
	return scanUnits(rows)
}

func scanUnits(rows pgx.Rows) ([]model.GeoUnit, error) {
	var units []model.GeoUnit
	for rows.Next() {
		var u model.GeoUnit
		var month string
		if err := rows.Scan(&u.Tenant, &month, &u.UnitCode, &u.Region, &u.BatchNumber, &u.PulledAt, &u.Yield); err != nil {
			return nil, eris.Wrap(err, "postgres: scan geo unit")
		}
		u.Month = model.Month(month)
		units = append(units, u)
	}
	return units, eris.Wrap(rows.Err(), "postgres: iterate geo units")
}

var contactColumns = []string{
	"id", "source_tenant", "month", "destination_tenant", "first_name", "last_name",
	"email", "property_state", "property_zip", "home_value", "high_value",
	"eligible", "filter_reason", "upload_batch_id",
}

// UpsertContacts bulk-writes classified contacts. Conflicts on the business
// key (source tenant, month, email, property ZIP) update the verdicts, so
// re-running classification never duplicates contacts.
func (s *PostgresStore) UpsertContacts(ctx context.Context, contacts []model.ClassifiedContact) (int64, error) {
	rows := make([][]any, len(contacts))
	for i, c := range contacts {
		rows[i] = []any{
			c.ID, c.SourceTenant, string(c.Month), nullable(c.DestinationTenant),
			c.FirstName, c.LastName, c.Email, c.PropertyState, c.PropertyZIP,
			c.HomeValue, c.HighValue, c.Eligible, nullable(c.FilterReason), c.UploadBatchID,
		}
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "classified_contacts",
		Columns:      contactColumns,
		ConflictKeys: []string{"source_tenant", "month", "email", "property_zip"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert contacts")
	}
	return n, nil
}

const contactSelect = `SELECT id, source_tenant, month, destination_tenant, first_name, last_name,
	email, property_state, property_zip, home_value, high_value, eligible,
	COALESCE(filter_reason, ''), COALESCE(upload_batch_id, ''), COALESCE(weekly_batch_id, '')
	FROM classified_contacts`

// ContactsForDelivery returns eligible contacts routed to the destination
// tenant for the month, not yet grouped into a batch first.
func (s *PostgresStore) ContactsForDelivery(ctx context.Context, destTenant string, month model.Month) ([]model.ClassifiedContact, error) {
	rows, err := s.pool.Query(ctx,
		contactSelect+` WHERE destination_tenant = $1 AND month = $2 AND eligible ORDER BY weekly_batch_id NULLS FIRST, id`,
		destTenant, string(month),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: contacts for delivery %s/%s", destTenant, month)
	}
	defer rows.Close()
	return scanContacts(rows)
}

// ContactsForBatch returns the contacts grouped into a weekly batch.
func (s *PostgresStore) ContactsForBatch(ctx context.Context, batchID string) ([]model.ClassifiedContact, error) {
	rows, err := s.pool.Query(ctx,
		contactSelect+` WHERE weekly_batch_id = $1 ORDER BY id`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: contacts for batch %s", batchID)
	}
	defer rows.Close()
	return scanContacts(rows)
}

// AssignContactsToBatch stamps grouped contacts with their batch id.
func (s *PostgresStore) AssignContactsToBatch(ctx context.Context, batchID string, contactIDs []string) error {
	if len(contactIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE classified_contacts SET weekly_batch_id = $1 WHERE id = ANY($2)`,
		batchID, contactIDs,
	)
	return eris.Wrapf(err, "postgres: assign contacts to batch %s", batchID)
}

func scanContacts(rows pgx.Rows) ([]model.ClassifiedContact, error) {
	var out []model.ClassifiedContact
	for rows.Next() {
		var c model.ClassifiedContact
		var month string
		var dest *string
		if err := rows.Scan(&c.ID, &c.SourceTenant, &month, &dest, &c.FirstName, &c.LastName,
			&c.Email, &c.PropertyState, &c.PropertyZIP, &c.HomeValue, &c.HighValue,
			&c.Eligible, &c.FilterReason, &c.UploadBatchID, &c.WeeklyBatchID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		c.Month = model.Month(month)
		if dest != nil {
			c.DestinationTenant = *dest
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate contacts")
}

// CreateBatches inserts weekly batches; an existing (tenant, month, week)
// row is left untouched so rebuilding a month is idempotent.
func (s *PostgresStore) CreateBatches(ctx context.Context, batches []model.WeeklyBatch) error {
	for _, b := range batches {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO weekly_batches
			   (id, tenant, month, week, scheduled_for, contact_count, high_value_count, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (tenant, month, week) DO NOTHING`,
			b.ID, b.Tenant, string(b.Month), b.Week, b.ScheduledFor,
			b.ContactCount, b.HighValueCount, string(b.Status), b.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: create batch %s", b.ID)
		}
	}
	return nil
}

// GetBatch returns the batch or nil when unknown.
func (s *PostgresStore) GetBatch(ctx context.Context, id string) (*model.WeeklyBatch, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant, month, week, scheduled_for, contact_count, high_value_count,
		   status, notified_at, approved_by, approved_at, delivered_count, delivery_error, created_at
		 FROM weekly_batches WHERE id = $1`,
		id,
	)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch %s", id)
	}
	return b, nil
}

// ListBatches returns batches matching the filter, newest first.
func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.WeeklyBatch, error) {
	var conds []string
	var args []any
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Tenant != "" {
		add("tenant = $%d", filter.Tenant)
	}
	if filter.Month != "" {
		add("month = $%d", string(filter.Month))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	sql := `SELECT id, tenant, month, week, scheduled_for, contact_count, high_value_count,
		status, notified_at, approved_by, approved_at, delivered_count, delivery_error, created_at
		FROM weekly_batches`
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var out []model.WeeklyBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate batches")
}

// MarkNotified flips pending → notified exactly once. The status guard keeps
// a late notify from regressing a batch that was already approved or
// delivered, which would reopen the approval window.
func (s *PostgresStore) MarkNotified(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE weekly_batches SET status = $1, notified_at = now()
		 WHERE id = $2 AND notified_at IS NULL AND status = $3`,
		string(model.BatchNotified), id, string(model.BatchPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: mark notified %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimApproval is the gate's atomic read-then-write: a racing duplicate
// approval observes zero affected rows and short-circuits.
func (s *PostgresStore) ClaimApproval(ctx context.Context, id, approver string) (*model.WeeklyBatch, bool, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE weekly_batches SET status = $1, approved_by = $2, approved_at = now()
		 WHERE id = $3 AND status IN ($4, $5)
		 RETURNING id, tenant, month, week, scheduled_for, contact_count, high_value_count,
		   status, notified_at, approved_by, approved_at, delivered_count, delivery_error, created_at`,
		string(model.BatchApproved), approver, id,
		string(model.BatchPending), string(model.BatchNotified),
	)
	b, err := scanBatch(row)
	if err == nil {
		return b, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, eris.Wrapf(err, "postgres: claim approval %s", id)
	}

	// Lost the claim or unknown id: report current state.
	current, err := s.GetBatch(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// SetDeliveryResult records the delivery outcome for an approved batch.
func (s *PostgresStore) SetDeliveryResult(ctx context.Context, id string, status model.BatchStatus, deliveredCount int, deliveryErr string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE weekly_batches SET status = $1, delivered_count = $2, delivery_error = $3 WHERE id = $4`,
		string(status), deliveredCount, nullable(deliveryErr), id,
	)
	return eris.Wrapf(err, "postgres: set delivery result %s", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*model.WeeklyBatch, error) {
	var b model.WeeklyBatch
	var month string
	var approvedBy, deliveryErr *string
	if err := row.Scan(&b.ID, &b.Tenant, &month, &b.Week, &b.ScheduledFor,
		&b.ContactCount, &b.HighValueCount, &b.Status, &b.NotifiedAt,
		&approvedBy, &b.ApprovedAt, &b.DeliveredCount, &deliveryErr, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Month = model.Month(month)
	if approvedBy != nil {
		b.ApprovedBy = *approvedBy
	}
	if deliveryErr != nil {
		b.DeliveryError = *deliveryErr
	}
	return &b, nil
}

// AppendAudit writes one audit entry. The log is append-only; nothing in
// this store updates or deletes rows from it.
func (s *PostgresStore) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (tenant, entity, entity_id, action, actor, outcome, detail, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Tenant, e.Entity, e.EntityID, e.Action, e.Actor, e.Outcome, e.Detail, auditTime(e.At),
	)
	return eris.Wrapf(err, "postgres: append audit %s/%s", e.Entity, e.EntityID)
}

// AuditTrail returns the transition history for one entity, oldest first.
func (s *PostgresStore) AuditTrail(ctx context.Context, entity, entityID string) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(tenant, ''), entity, entity_id, action, COALESCE(actor, ''),
		   outcome, COALESCE(detail, ''), at
		 FROM audit_log WHERE entity = $1 AND entity_id = $2 ORDER BY id`,
		entity, entityID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: audit trail %s/%s", entity, entityID)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.Tenant, &e.Entity, &e.EntityID, &e.Action,
			&e.Actor, &e.Outcome, &e.Detail, &e.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate audit entries")
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func auditTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
