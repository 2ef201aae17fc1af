package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/listpull-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It exists for
// local development and single-operator installs; Postgres is the default.
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS geo_units (
	tenant       TEXT NOT NULL,
	month        TEXT NOT NULL,
	unit_code    TEXT NOT NULL,
	region       TEXT NOT NULL,
	batch_number INTEGER NOT NULL DEFAULT 0,
	pulled_at    DATETIME,
	yield        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant, month, unit_code)
);

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
	home_value         REAL NOT NULL DEFAULT 0,
	high_value         INTEGER NOT NULL DEFAULT 0,
	eligible           INTEGER NOT NULL DEFAULT 0,
	filter_reason      TEXT,
	upload_batch_id    TEXT,
	weekly_batch_id    TEXT,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (source_tenant, month, email, property_zip)
);

CREATE TABLE IF NOT EXISTS weekly_batches (
	id               TEXT PRIMARY KEY,
	tenant           TEXT NOT NULL,
	month            TEXT NOT NULL,
	week             INTEGER NOT NULL,
	scheduled_for    DATETIME NOT NULL,
	contact_count    INTEGER NOT NULL DEFAULT 0,
	high_value_count INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'pending',
	notified_at      DATETIME,
	approved_by      TEXT,
	approved_at      DATETIME,
	delivered_count  INTEGER NOT NULL DEFAULT 0,
	delivery_error   TEXT,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (tenant, month, week)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant    TEXT,
	entity    TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	action    TEXT NOT NULL,
	actor     TEXT,
	outcome   TEXT NOT NULL,
	detail    TEXT,
	at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_geo_units_month ON geo_units(tenant, month);
CREATE INDEX IF NOT EXISTS idx_contacts_delivery ON classified_contacts(destination_tenant, month);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity, entity_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AssignUnits(ctx context.Context, tenant string, month model.Month, units []model.GeoUnit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: assign units: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM geo_units WHERE tenant = ? AND month = ?`, tenant, string(month),
	); err != nil {
		return eris.Wrapf(err, "sqlite: clear assignment %s/%s", tenant, month)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO geo_units (tenant, month, unit_code, region, batch_number) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare assignment insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, u := range units {
		if _, err := stmt.ExecContext(ctx, tenant, string(month), u.UnitCode, u.Region, u.BatchNumber); err != nil {
			return eris.Wrapf(err, "sqlite: insert unit %s", u.UnitCode)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: assign units: commit")
}

func (s *SQLiteStore) Assignment(ctx context.Context, tenant string, month model.Month) ([]model.GeoUnit, error) {
	return s.queryUnits(ctx,
		`SELECT tenant, month, unit_code, region, batch_number, pulled_at, yield
		 FROM geo_units WHERE tenant = ? AND month = ? ORDER BY batch_number, unit_code`,
		tenant, string(month))
}

func (s *SQLiteStore) UnpulledUnits(ctx context.Context, tenant string, month model.Month) ([]model.GeoUnit, error) {
	return s.queryUnits(ctx,
		`SELECT tenant, month, unit_code, region, batch_number, pulled_at, yield
		 FROM geo_units WHERE tenant = ? AND month = ? AND pulled_at IS NULL
		 ORDER BY batch_number, unit_code`,
		tenant, string(month))
}

func (s *SQLiteStore) queryUnits(ctx context.Context, query string, args ...any) ([]model.GeoUnit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query geo units")
	}
	defer rows.Close() //nolint:errcheck

	var units []model.GeoUnit
	for rows.Next() {
		var u model.GeoUnit
		var month string
		var pulledAt sql.NullTime
		if err := rows.Scan(&u.Tenant, &month, &u.UnitCode, &u.Region, &u.BatchNumber, &pulledAt, &u.Yield); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan geo unit")
		}
		u.Month = model.Month(month)
		if pulledAt.Valid {
			t := pulledAt.Time
			u.PulledAt = &t
		}
		units = append(units, u)
	}
	return units, eris.Wrap(rows.Err(), "sqlite: iterate geo units")
}

func (s *SQLiteStore) RecordPull(ctx context.Context, tenant string, month model.Month, yieldByUnit map[string]int) (*PullReport, error) {
	report := &PullReport{Requested: len(yieldByUnit)}

	units := make([]string, 0, len(yieldByUnit))
	for u := range yieldByUnit {
		units = append(units, u)
	}
	sort.Strings(units)

	now := time.Now().UTC()
	for _, unit := range units {
		res, err := s.db.ExecContext(ctx,
			`UPDATE geo_units SET pulled_at = ?, yield = ?
			 WHERE tenant = ? AND month = ? AND unit_code = ? AND pulled_at IS NULL`,
			now, yieldByUnit[unit], tenant, string(month), unit,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: record pull unit %s", unit)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			report.Applied = append(report.Applied, unit)
			continue
		}

		var one int
		err = s.db.QueryRowContext(ctx,
			`SELECT 1 FROM geo_units WHERE tenant = ? AND month = ? AND unit_code = ?`,
			tenant, string(month), unit,
		).Scan(&one)
		switch {
		case err == nil:
			report.AlreadyPulled = append(report.AlreadyPulled, unit)
		case errors.Is(err, sql.ErrNoRows):
			report.Unknown = append(report.Unknown, unit)
		default:
			return nil, eris.Wrapf(err, "sqlite: check unit %s", unit)
		}
	}

	return report, nil
}

func (s *SQLiteStore) UpsertContacts(ctx context.Context, contacts []model.ClassifiedContact) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert contacts: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO classified_contacts
		  (id, source_tenant, month, destination_tenant, first_name, last_name, email,
		   property_state, property_zip, home_value, high_value, eligible, filter_reason,
		   upload_batch_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_tenant, month, email, property_zip) DO UPDATE SET
		  destination_tenant = excluded.destination_tenant,
		  home_value = excluded.home_value,
		  high_value = excluded.high_value,
		  eligible = excluded.eligible,
		  filter_reason = excluded.filter_reason,
		  upload_batch_id = excluded.upload_batch_id`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare contact upsert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for _, c := range contacts {
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.SourceTenant, string(c.Month), c.DestinationTenant,
			c.FirstName, c.LastName, c.Email, c.PropertyState, c.PropertyZIP,
			c.HomeValue, c.HighValue, c.Eligible, c.FilterReason, c.UploadBatchID, now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert contact %s", c.ID)
		}
		n++
	}

	return n, eris.Wrap(tx.Commit(), "sqlite: upsert contacts: commit")
}

const sqliteContactSelect = `SELECT id, source_tenant, month, COALESCE(destination_tenant, ''),
	first_name, last_name, email, property_state, property_zip, home_value, high_value,
	eligible, COALESCE(filter_reason, ''), COALESCE(upload_batch_id, ''), COALESCE(weekly_batch_id, '')
	FROM classified_contacts`

func (s *SQLiteStore) ContactsForDelivery(ctx context.Context, destTenant string, month model.Month) ([]model.ClassifiedContact, error) {
	return s.queryContacts(ctx,
		sqliteContactSelect+` WHERE destination_tenant = ? AND month = ? AND eligible ORDER BY id`,
		destTenant, string(month))
}

func (s *SQLiteStore) ContactsForBatch(ctx context.Context, batchID string) ([]model.ClassifiedContact, error) {
	return s.queryContacts(ctx, sqliteContactSelect+` WHERE weekly_batch_id = ? ORDER BY id`, batchID)
}

func (s *SQLiteStore) queryContacts(ctx context.Context, query string, args ...any) ([]model.ClassifiedContact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query contacts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ClassifiedContact
	for rows.Next() {
		var c model.ClassifiedContact
		var month string
		if err := rows.Scan(&c.ID, &c.SourceTenant, &month, &c.DestinationTenant,
			&c.FirstName, &c.LastName, &c.Email, &c.PropertyState, &c.PropertyZIP,
			&c.HomeValue, &c.HighValue, &c.Eligible, &c.FilterReason,
			&c.UploadBatchID, &c.WeeklyBatchID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		c.Month = model.Month(month)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate contacts")
}

func (s *SQLiteStore) AssignContactsToBatch(ctx context.Context, batchID string, contactIDs []string) error {
	if len(contactIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(contactIDs)), ",")
	args := make([]any, 0, len(contactIDs)+1)
	args = append(args, batchID)
	for _, id := range contactIDs {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE classified_contacts SET weekly_batch_id = ? WHERE id IN (%s)`, placeholders),
		args...,
	)
	return eris.Wrapf(err, "sqlite: assign contacts to batch %s", batchID)
}

func (s *SQLiteStore) CreateBatches(ctx context.Context, batches []model.WeeklyBatch) error {
	for _, b := range batches {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO weekly_batches
			   (id, tenant, month, week, scheduled_for, contact_count, high_value_count, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (tenant, month, week) DO NOTHING`,
			b.ID, b.Tenant, string(b.Month), b.Week, b.ScheduledFor,
			b.ContactCount, b.HighValueCount, string(b.Status), b.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: create batch %s", b.ID)
		}
	}
	return nil
}

const sqliteBatchSelect = `SELECT id, tenant, month, week, scheduled_for, contact_count,
	high_value_count, status, notified_at, COALESCE(approved_by, ''), approved_at,
	delivered_count, COALESCE(delivery_error, ''), created_at FROM weekly_batches`

func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*model.WeeklyBatch, error) {
	row := s.db.QueryRowContext(ctx, sqliteBatchSelect+` WHERE id = ?`, id)
	b, err := scanSQLiteBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get batch %s", id)
	}
	return b, nil
}

func (s *SQLiteStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.WeeklyBatch, error) {
	var conds []string
	var args []any
	if filter.Tenant != "" {
		conds = append(conds, "tenant = ?")
		args = append(args, filter.Tenant)
	}
	if filter.Month != "" {
		conds = append(conds, "month = ?")
		args = append(args, string(filter.Month))
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := sqliteBatchSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.WeeklyBatch
	for rows.Next() {
		b, err := scanSQLiteBatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate batches")
}

func (s *SQLiteStore) MarkNotified(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE weekly_batches SET status = ?, notified_at = ? WHERE id = ? AND notified_at IS NULL AND status = ?`,
		string(model.BatchNotified), time.Now().UTC(), id, string(model.BatchPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: mark notified %s", id)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *SQLiteStore) ClaimApproval(ctx context.Context, id, approver string) (*model.WeeklyBatch, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE weekly_batches SET status = ?, approved_by = ?, approved_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(model.BatchApproved), approver, time.Now().UTC(), id,
		string(model.BatchPending), string(model.BatchNotified),
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: claim approval %s", id)
	}

	b, gerr := s.GetBatch(ctx, id)
	if gerr != nil {
		return nil, false, gerr
	}
	n, _ := res.RowsAffected()
	return b, n == 1, nil
}

func (s *SQLiteStore) SetDeliveryResult(ctx context.Context, id string, status model.BatchStatus, deliveredCount int, deliveryErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE weekly_batches SET status = ?, delivered_count = ?, delivery_error = ? WHERE id = ?`,
		string(status), deliveredCount, deliveryErr, id,
	)
	return eris.Wrapf(err, "sqlite: set delivery result %s", id)
}

func scanSQLiteBatch(row interface{ Scan(dest ...any) error }) (*model.WeeklyBatch, error) {
	var b model.WeeklyBatch
	var month, status string
	var notifiedAt, approvedAt sql.NullTime
	if err := row.Scan(&b.ID, &b.Tenant, &month, &b.Week, &b.ScheduledFor,
		&b.ContactCount, &b.HighValueCount, &status, &notifiedAt,
		&b.ApprovedBy, &approvedAt, &b.DeliveredCount, &b.DeliveryError, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Month = model.Month(month)
	b.Status = model.BatchStatus(status)
	if notifiedAt.Valid {
		t := notifiedAt.Time
		b.NotifiedAt = &t
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		b.ApprovedAt = &t
	}
	return &b, nil
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (tenant, entity, entity_id, action, actor, outcome, detail, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Tenant, e.Entity, e.EntityID, e.Action, e.Actor, e.Outcome, e.Detail, at,
	)
	return eris.Wrapf(err, "sqlite: append audit %s/%s", e.Entity, e.EntityID)
}

func (s *SQLiteStore) AuditTrail(ctx context.Context, entity, entityID string) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(tenant, ''), entity, entity_id, action, COALESCE(actor, ''),
		   outcome, COALESCE(detail, ''), at
		 FROM audit_log WHERE entity = ? AND entity_id = ? ORDER BY id`,
		entity, entityID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: audit trail %s/%s", entity, entityID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.Tenant, &e.Entity, &e.EntityID, &e.Action,
			&e.Actor, &e.Outcome, &e.Detail, &e.At); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate audit entries")
}
