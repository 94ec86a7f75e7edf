package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helmdesk/helmdesk/internal/platform/db"
	"github.com/helmdesk/helmdesk/internal/shared"
)

// Repository defines persistence operations for the permission store.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error

	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByPublicID(ctx context.Context, publicID string) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetModuleByPublicID(ctx context.Context, publicID string) (Module, error)
	ListModules(ctx context.Context) ([]Module, error)
	GetAccessByPublicID(ctx context.Context, publicID string) (Access, error)
	ListAccess(ctx context.Context) ([]Access, error)
	GetAccessRoleByNames(ctx context.Context, roleName, accessName string) (AccessRole, error)
	ListModuleGrants(ctx context.Context, roleID int64) ([]ModuleGrant, error)
	ListAccessGrants(ctx context.Context, roleID int64) ([]AccessGrant, error)
}

// TxRepository exposes the mutations that must run inside one transaction.
type TxRepository interface {
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, id int64, alias, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) (int64, error)
	CountAccountsByRole(ctx context.Context, roleID int64) (int64, error)

	CreateModule(ctx context.Context, module Module) (Module, error)
	UpdateModule(ctx context.Context, id int64, name, summary string) (Module, error)
	DeleteModule(ctx context.Context, id int64) (int64, error)

	CreateAccess(ctx context.Context, access Access) (Access, error)
	UpdateAccess(ctx context.Context, id int64, alias string) (Access, error)
	DeleteAccess(ctx context.Context, id int64) (int64, error)

	ListRoles(ctx context.Context) ([]Role, error)
	ListModules(ctx context.Context) ([]Module, error)
	ListAccess(ctx context.Context) ([]Access, error)

	InsertModuleRoles(ctx context.Context, rows []ModuleRole) error
	InsertAccessRoles(ctx context.Context, rows []AccessRole) error
	SetModuleRolePermission(ctx context.Context, moduleID, roleID int64, permission Permission) (int64, error)
	SetAccessRolePermission(ctx context.Context, accessID, roleID int64, permission Permission) (int64, error)
	CascadeModulePermission(ctx context.Context, moduleID, roleID int64, permission Permission) (int64, error)
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
	queries
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, queries: queries{db: pool}}
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, queries{db: tx})
	})
}

var _ Repository = (*PGRepository)(nil)
var _ TxRepository = queries{}

type queries struct {
	db dbtx
}

const roleColumns = `id, public_id, name, alias, description, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.PublicID, &r.Name, &r.Alias, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	return r, mapError(err)
}

func (q queries) CreateRole(ctx context.Context, role Role) (Role, error) {
	query := `INSERT INTO roles (public_id, name, alias, description)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + roleColumns
	return scanRole(q.db.QueryRow(ctx, query, role.PublicID, role.Name, role.Alias, role.Description))
}

func (q queries) GetRole(ctx context.Context, id int64) (Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`
	return scanRole(q.db.QueryRow(ctx, query, id))
}

func (q queries) GetRoleByPublicID(ctx context.Context, publicID string) (Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE public_id = $1`
	return scanRole(q.db.QueryRow(ctx, query, publicID))
}

func (q queries) GetRoleByName(ctx context.Context, name string) (Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE name = $1`
	return scanRole(q.db.QueryRow(ctx, query, name))
}

func (q queries) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := q.db.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (q queries) UpdateRole(ctx context.Context, id int64, alias, description string) (Role, error) {
	query := `UPDATE roles SET alias = $2, description = $3, updated_at = now()
		WHERE id = $1
		RETURNING ` + roleColumns
	return scanRole(q.db.QueryRow(ctx, query, id, alias, description))
}

func (q queries) DeleteRole(ctx context.Context, id int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

func (q queries) CountAccountsByRole(ctx context.Context, roleID int64) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE role_id = $1`, roleID).Scan(&count)
	return count, err
}

const moduleColumns = `id, public_id, code, name, summary, created_at, updated_at`

func scanModule(row pgx.Row) (Module, error) {
	var m Module
	err := row.Scan(&m.ID, &m.PublicID, &m.Code, &m.Name, &m.Summary, &m.CreatedAt, &m.UpdatedAt)
	return m, mapError(err)
}

func (q queries) CreateModule(ctx context.Context, module Module) (Module, error) {
	query := `INSERT INTO modules (public_id, code, name, summary)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + moduleColumns
	return scanModule(q.db.QueryRow(ctx, query, module.PublicID, module.Code, module.Name, module.Summary))
}

func (q queries) GetModuleByPublicID(ctx context.Context, publicID string) (Module, error) {
	query := `SELECT ` + moduleColumns + ` FROM modules WHERE public_id = $1`
	return scanModule(q.db.QueryRow(ctx, query, publicID))
}

func (q queries) ListModules(ctx context.Context) ([]Module, error) {
	rows, err := q.db.Query(ctx, `SELECT `+moduleColumns+` FROM modules ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []Module
	for rows.Next() {
		module, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, module)
	}
	return modules, rows.Err()
}

func (q queries) UpdateModule(ctx context.Context, id int64, name, summary string) (Module, error) {
	query := `UPDATE modules SET name = $2, summary = $3, updated_at = now()
		WHERE id = $1
		RETURNING ` + moduleColumns
	return scanModule(q.db.QueryRow(ctx, query, id, name, summary))
}

func (q queries) DeleteModule(ctx context.Context, id int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM modules WHERE id = $1`, id)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

const accessColumns = `id, public_id, name, alias, module_id, created_at, updated_at`

func scanAccess(row pgx.Row) (Access, error) {
	var a Access
	err := row.Scan(&a.ID, &a.PublicID, &a.Name, &a.Alias, &a.ModuleID, &a.CreatedAt, &a.UpdatedAt)
	return a, mapError(err)
}

func (q queries) CreateAccess(ctx context.Context, access Access) (Access, error) {
	query := `INSERT INTO access (public_id, name, alias, module_id)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + accessColumns
	return scanAccess(q.db.QueryRow(ctx, query, access.PublicID, access.Name, access.Alias, access.ModuleID))
}

func (q queries) GetAccessByPublicID(ctx context.Context, publicID string) (Access, error) {
	query := `SELECT ` + accessColumns + ` FROM access WHERE public_id = $1`
	return scanAccess(q.db.QueryRow(ctx, query, publicID))
}

func (q queries) ListAccess(ctx context.Context) ([]Access, error) {
	rows, err := q.db.Query(ctx, `SELECT `+accessColumns+` FROM access ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Access
	for rows.Next() {
		access, err := scanAccess(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, access)
	}
	return list, rows.Err()
}

func (q queries) UpdateAccess(ctx context.Context, id int64, alias string) (Access, error) {
	query := `UPDATE access SET alias = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + accessColumns
	return scanAccess(q.db.QueryRow(ctx, query, id, alias))
}

func (q queries) DeleteAccess(ctx context.Context, id int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM access WHERE id = $1`, id)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// InsertModuleRoles bulk-inserts join rows. Re-provisioning an existing pair is
// a no-op so task retries stay idempotent.
func (q queries) InsertModuleRoles(ctx context.Context, rows []ModuleRole) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(
			`INSERT INTO module_roles (module_id, role_id, permission)
				VALUES ($1, $2, $3)
				ON CONFLICT (module_id, role_id) DO NOTHING`,
			row.ModuleID, row.RoleID, row.Permission,
		)
	}
	return q.sendBatch(ctx, batch)
}

// InsertAccessRoles bulk-inserts join rows with the same idempotency contract.
func (q queries) InsertAccessRoles(ctx context.Context, rows []AccessRole) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(
			`INSERT INTO access_roles (access_id, role_id, permission)
				VALUES ($1, $2, $3)
				ON CONFLICT (access_id, role_id) DO NOTHING`,
			row.AccessID, row.RoleID, row.Permission,
		)
	}
	return q.sendBatch(ctx, batch)
}

func (q queries) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	results := q.db.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return mapError(err)
		}
	}
	return results.Close()
}

func (q queries) SetModuleRolePermission(ctx context.Context, moduleID, roleID int64, permission Permission) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE module_roles SET permission = $3, updated_at = now()
			WHERE module_id = $1 AND role_id = $2`,
		moduleID, roleID, permission,
	)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

func (q queries) SetAccessRolePermission(ctx context.Context, accessID, roleID int64, permission Permission) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE access_roles SET permission = $3, updated_at = now()
			WHERE access_id = $1 AND role_id = $2`,
		accessID, roleID, permission,
	)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// CascadeModulePermission propagates a module-level permission to every access
// row under the module for the same role in a single bulk update.
func (q queries) CascadeModulePermission(ctx context.Context, moduleID, roleID int64, permission Permission) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE access_roles SET permission = $3, updated_at = now()
			WHERE role_id = $2
			  AND access_id IN (SELECT id FROM access WHERE module_id = $1)`,
		moduleID, roleID, permission,
	)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

func (q queries) GetAccessRoleByNames(ctx context.Context, roleName, accessName string) (AccessRole, error) {
	var ar AccessRole
	err := q.db.QueryRow(ctx,
		`SELECT ar.id, ar.access_id, ar.role_id, ar.permission
			FROM access_roles ar
			JOIN access a ON a.id = ar.access_id
			JOIN roles r ON r.id = ar.role_id
			WHERE r.name = $1 AND a.name = $2`,
		roleName, accessName,
	).Scan(&ar.ID, &ar.AccessID, &ar.RoleID, &ar.Permission)
	if err != nil {
		return AccessRole{}, mapError(err)
	}
	return ar, nil
}

func (q queries) ListModuleGrants(ctx context.Context, roleID int64) ([]ModuleGrant, error) {
	rows, err := q.db.Query(ctx,
		`SELECT m.public_id, m.code, mr.permission
			FROM module_roles mr
			JOIN modules m ON m.id = mr.module_id
			WHERE mr.role_id = $1
			ORDER BY m.code`,
		roleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []ModuleGrant
	for rows.Next() {
		var g ModuleGrant
		if err := rows.Scan(&g.ModulePublicID, &g.ModuleCode, &g.Permission); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (q queries) ListAccessGrants(ctx context.Context, roleID int64) ([]AccessGrant, error) {
	rows, err := q.db.Query(ctx,
		`SELECT a.public_id, a.name, ar.permission
			FROM access_roles ar
			JOIN access a ON a.id = ar.access_id
			WHERE ar.role_id = $1
			ORDER BY a.name`,
		roleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []AccessGrant
	for rows.Next() {
		var g AccessGrant
		if err := rows.Scan(&g.AccessPublicID, &g.AccessName, &g.Permission); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// mapError translates pgx errors into the shared taxonomy. Unique violations
// surface as Conflict carrying the offending constraint name.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", shared.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
