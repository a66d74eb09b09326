package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// Store persists and serves audit records. Insert is owned exclusively by
// the Recorder; no other component writes audit rows.
type Store interface {
	Insert(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, sourceDept string, f Filter) ([]Record, error)
	Stats(ctx context.Context, sourceDept string, from, to time.Time) (Stats, error)
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx, `
		insert into cross_tenant_audit_log
			(id, created_at, source_dept, target_dept, subject_id, operation,
			 query_text, reason, allowed, deny_code, result_count, duration_ms, client_ip, user_agent)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, rec.ID, rec.CreatedAt, rec.SourceDept, rec.TargetDept, rec.SubjectID, rec.Operation,
		rec.QueryText, rec.Reason, rec.Allowed, rec.DenyCode, rec.ResultCount, rec.DurationMs,
		rec.ClientIP, rec.UserAgent)
	return err
}

const recordColumns = `id, created_at, source_dept, target_dept, subject_id, operation,
	query_text, reason, allowed, deny_code, result_count, duration_ms, client_ip, user_agent`

func (s *PGStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+recordColumns+` from cross_tenant_audit_log where id=$1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (s *PGStore) List(ctx context.Context, sourceDept string, f Filter) ([]Record, error) {
	query := `select ` + recordColumns + ` from cross_tenant_audit_log where source_dept=$1`
	args := []any{sourceDept}
	idx := 2

	if !f.From.IsZero() {
		query += fmt.Sprintf(" and created_at >= $%d", idx)
		args = append(args, f.From)
		idx++
	}
	if !f.To.IsZero() {
		query += fmt.Sprintf(" and created_at <= $%d", idx)
		args = append(args, f.To)
		idx++
	}
	if f.SubjectID != "" {
		query += fmt.Sprintf(" and subject_id = $%d", idx)
		args = append(args, f.SubjectID)
		idx++
	}
	if f.Allowed != nil {
		query += fmt.Sprintf(" and allowed = $%d", idx)
		args = append(args, *f.Allowed)
		idx++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query += fmt.Sprintf(" order by created_at desc limit $%d", idx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PGStore) Stats(ctx context.Context, sourceDept string, from, to time.Time) (Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		select count(*),
		       count(*) filter (where allowed),
		       count(*) filter (where not allowed),
		       coalesce(avg(duration_ms) filter (where allowed), 0)
		from cross_tenant_audit_log
		where source_dept=$1 and created_at >= $2 and created_at <= $3
	`, sourceDept, from, to).Scan(&stats.Total, &stats.Allowed, &stats.Denied, &stats.AvgDurationMs)
	if err != nil {
		return Stats{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select target_dept, count(*)
		from cross_tenant_audit_log
		where source_dept=$1 and created_at >= $2 and created_at <= $3
		group by target_dept
		order by count(*) desc, target_dept
		limit 5
	`, sourceDept, from, to)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var tc TargetCount
		if err := rows.Scan(&tc.Tenant, &tc.Count); err != nil {
			return Stats{}, err
		}
		stats.TopTargets = append(stats.TopTargets, tc)
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.SourceDept, &rec.TargetDept, &rec.SubjectID,
		&rec.Operation, &rec.QueryText, &rec.Reason, &rec.Allowed, &rec.DenyCode,
		&rec.ResultCount, &rec.DurationMs, &rec.ClientIP, &rec.UserAgent)
	return rec, err
}
