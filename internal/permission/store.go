package permission

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Store describes grant persistence. The query path only reads; writes
// happen exclusively through the explicit grant/revoke operations.
type Store interface {
	Upsert(ctx context.Context, g *Grant) error
	Revoke(ctx context.Context, source, target, permissionType, resourceType string) error
	ListBySource(ctx context.Context, source string) ([]Grant, error)
	// BestMatch returns the single effective grant for the triple,
	// preferring an exact resource-type match over the wildcard, then the
	// most recently granted. sql.ErrNoRows surfaces as ErrNoGrant.
	BestMatch(ctx context.Context, source, target, permissionType, resourceType string) (Grant, error)
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Upsert(ctx context.Context, g *Grant) error {
	if strings.TrimSpace(g.SourceDept) == "" || strings.TrimSpace(g.TargetDept) == "" {
		return ErrInvalidInput
	}
	if !ValidType(g.PermissionType) {
		return ErrInvalidInput
	}
	if g.ResourceType == "" {
		g.ResourceType = ResourceWildcard
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	// Re-granting the same tuple refreshes granted_at/expiry instead of
	// duplicating the row.
	_, err := s.db.ExecContext(ctx, `
		insert into cross_tenant_permissions
			(id, source_dept, target_dept, permission_type, resource_type, enabled, granted_by, granted_at, expires_at)
		values ($1,$2,$3,$4,$5,true,$6,now(),$7)
		on conflict (source_dept, target_dept, permission_type, resource_type) do update
		set enabled = true, granted_by = excluded.granted_by,
		    granted_at = now(), expires_at = excluded.expires_at
	`, g.ID, g.SourceDept, g.TargetDept, g.PermissionType, g.ResourceType, g.GrantedBy, g.ExpiresAt)
	return err
}

func (s *PGStore) Revoke(ctx context.Context, source, target, permissionType, resourceType string) error {
	if resourceType == "" {
		resourceType = ResourceWildcard
	}
	res, err := s.db.ExecContext(ctx, `
		update cross_tenant_permissions set enabled = false
		where source_dept=$1 and target_dept=$2 and permission_type=$3 and resource_type=$4 and enabled
	`, source, target, permissionType, resourceType)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoGrant
	}
	return nil
}

func (s *PGStore) ListBySource(ctx context.Context, source string) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, source_dept, target_dept, permission_type, resource_type, enabled, granted_by, granted_at, expires_at
		from cross_tenant_permissions
		where source_dept=$1
		order by granted_at desc
	`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *PGStore) BestMatch(ctx context.Context, source, target, permissionType, resourceType string) (Grant, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, source_dept, target_dept, permission_type, resource_type, enabled, granted_by, granted_at, expires_at
		from cross_tenant_permissions
		where source_dept=$1 and target_dept=$2 and permission_type=$3
		  and enabled and resource_type in ($4, '*')
		order by (resource_type = $4) desc, granted_at desc
		limit 1
	`, source, target, permissionType, resourceType)
	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Grant{}, ErrNoGrant
	}
	if err != nil {
		return Grant{}, err
	}
	return g, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (Grant, error) {
	var (
		g       Grant
		expires sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.SourceDept, &g.TargetDept, &g.PermissionType,
		&g.ResourceType, &g.Enabled, &g.GrantedBy, &g.GrantedAt, &expires); err != nil {
		return Grant{}, err
	}
	if expires.Valid {
		t := expires.Time
		g.ExpiresAt = &t
	}
	return g, nil
}
