package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"envline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// StoredEnvironment is an environment with its optimistic concurrency version.
type StoredEnvironment struct {
	Environment *domain.Environment
	Version     int
	UpdatedAt   string
}

func originColumns(o domain.Origin) (string, string) {
	if o.Type == domain.ConfigRepository {
		return domain.ConfigRepository.String(), o.ID
	}
	return domain.Interactive.String(), ""
}

func originFromColumns(typ, id string) (domain.Origin, error) {
	switch typ {
	case domain.Interactive.String():
		return domain.InteractiveOrigin(), nil
	case domain.ConfigRepository.String():
		return domain.ConfigRepoOrigin(id), nil
	}
	return domain.Origin{}, fmt.Errorf("unknown origin type %q", typ)
}

func (r Repo) CountEnvironments(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM environments`).Scan(&n)
	return n, err
}

func (r Repo) ListEnvironments(ctx context.Context) ([]StoredEnvironment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name FROM environments ORDER BY created_at, name`)
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, n)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	res := make([]StoredEnvironment, 0, len(names))
	for _, n := range names {
		env, err := load(ctx, r.DB, n)
		if err != nil {
			return nil, err
		}
		res = append(res, env)
	}
	return res, nil
}

func (r Repo) GetEnvironment(ctx context.Context, name string) (StoredEnvironment, error) {
	return load(ctx, r.DB, name)
}

func (r Repo) GetEnvironmentTx(ctx context.Context, tx *sql.Tx, name string) (StoredEnvironment, error) {
	return load(ctx, tx, name)
}

func load(ctx context.Context, q querier, name string) (StoredEnvironment, error) {
	var s StoredEnvironment
	err := q.QueryRowContext(ctx, `SELECT version,updated_at FROM environments WHERE name=?`, name).Scan(&s.Version, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	env := &domain.Environment{Name: name, Variables: domain.NewEnvironmentVariables()}

	if err := eachRow(ctx, q, `SELECT origin_type,origin_id FROM env_origins WHERE env_name=? ORDER BY position`, name, func(rows *sql.Rows) error {
		var typ, id string
		if err := rows.Scan(&typ, &id); err != nil {
			return err
		}
		o, err := originFromColumns(typ, id)
		if err != nil {
			return err
		}
		env.Origins = env.Origins.Add(o)
		return nil
	}); err != nil {
		return s, fmt.Errorf("load origins of %s: %w", name, err)
	}

	if err := eachRow(ctx, q, `SELECT pipeline,origin_type,origin_id FROM env_pipelines WHERE env_name=? ORDER BY position`, name, func(rows *sql.Rows) error {
		var p, typ, id string
		if err := rows.Scan(&p, &typ, &id); err != nil {
			return err
		}
		o, err := originFromColumns(typ, id)
		if err != nil {
			return err
		}
		env.AddPipelineIfAbsent(domain.PipelineMembership{Name: p, Origin: o})
		return nil
	}); err != nil {
		return s, fmt.Errorf("load pipelines of %s: %w", name, err)
	}

	if err := eachRow(ctx, q, `SELECT uuid,hostname,origin_type,origin_id FROM env_agents WHERE env_name=? ORDER BY position`, name, func(rows *sql.Rows) error {
		var a domain.AgentMembership
		var typ, id string
		if err := rows.Scan(&a.UUID, &a.Hostname, &typ, &id); err != nil {
			return err
		}
		o, err := originFromColumns(typ, id)
		if err != nil {
			return err
		}
		a.Origin = o
		env.AddAgentIfAbsent(a)
		return nil
	}); err != nil {
		return s, fmt.Errorf("load agents of %s: %w", name, err)
	}

	if err := eachRow(ctx, q, `SELECT name,value,encrypted_value,secure,origin_type,origin_id FROM env_variables WHERE env_name=? ORDER BY position`, name, func(rows *sql.Rows) error {
		v := &domain.EnvironmentVariable{}
		var typ, id string
		if err := rows.Scan(&v.Name, &v.Value, &v.EncryptedValue, &v.Secure, &typ, &id); err != nil {
			return err
		}
		o, err := originFromColumns(typ, id)
		if err != nil {
			return err
		}
		v.Origin = o
		env.Variables.Add(v)
		return nil
	}); err != nil {
		return s, fmt.Errorf("load variables of %s: %w", name, err)
	}

	s.Environment = env
	return s, nil
}

func eachRow(ctx context.Context, q querier, query, name string, fn func(*sql.Rows) error) error {
	rows, err := q.QueryContext(ctx, query, name)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// InsertEnvironmentTx stores a new environment at version 1.
func (r Repo) InsertEnvironmentTx(ctx context.Context, tx *sql.Tx, env *domain.Environment, now string) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO environments(name,version,created_at,updated_at) VALUES (?,1,?,?)`, env.Name, now, now); err != nil {
		var exists int
		if qerr := tx.QueryRowContext(ctx, `SELECT count(*) FROM environments WHERE name=?`, env.Name).Scan(&exists); qerr == nil && exists > 0 {
			return fmt.Errorf("environment %s: %w", env.Name, ErrExists)
		}
		return fmt.Errorf("insert environment: %w", err)
	}
	return insertChildren(ctx, tx, env)
}

// ReplaceEnvironmentTx rewrites the members of env and moves it to version.
func (r Repo) ReplaceEnvironmentTx(ctx context.Context, tx *sql.Tx, env *domain.Environment, version int, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE environments SET version=?, updated_at=? WHERE name=?`, version, now, env.Name)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	for _, table := range []string{"env_origins", "env_pipelines", "env_agents", "env_variables"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE env_name=?`, env.Name); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return insertChildren(ctx, tx, env)
}

func insertChildren(ctx context.Context, tx *sql.Tx, env *domain.Environment) error {
	for i, o := range env.Origins {
		typ, id := originColumns(o)
		if _, err := tx.ExecContext(ctx, `INSERT INTO env_origins(env_name,origin_type,origin_id,position) VALUES (?,?,?,?)`, env.Name, typ, id, i); err != nil {
			return fmt.Errorf("insert origin %s: %w", o, err)
		}
	}
	for i, p := range env.Pipelines {
		typ, id := originColumns(p.Origin)
		if _, err := tx.ExecContext(ctx, `INSERT INTO env_pipelines(env_name,pipeline,origin_type,origin_id,position) VALUES (?,?,?,?,?)`, env.Name, p.Name, typ, id, i); err != nil {
			return fmt.Errorf("insert pipeline %s: %w", p.Name, err)
		}
	}
	for i, a := range env.Agents {
		typ, id := originColumns(a.Origin)
		if _, err := tx.ExecContext(ctx, `INSERT INTO env_agents(env_name,uuid,hostname,origin_type,origin_id,position) VALUES (?,?,?,?,?,?)`, env.Name, a.UUID, a.Hostname, typ, id, i); err != nil {
			return fmt.Errorf("insert agent %s: %w", a.UUID, err)
		}
	}
	if env.Variables == nil {
		return nil
	}
	for i, v := range env.Variables.List() {
		typ, id := originColumns(v.Origin)
		if _, err := tx.ExecContext(ctx, `INSERT INTO env_variables(env_name,name,value,encrypted_value,secure,origin_type,origin_id,position) VALUES (?,?,?,?,?,?,?,?)`,
			env.Name, v.Name, v.Value, v.EncryptedValue, v.Secure, typ, id, i); err != nil {
			return fmt.Errorf("insert variable %s: %w", v.Name, err)
		}
	}
	return nil
}

func (r Repo) DeleteEnvironmentTx(ctx context.Context, tx *sql.Tx, name string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM environments WHERE name=?`, name)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// PipelineOwnersTx returns the environments holding pipeline.
func (r Repo) PipelineOwnersTx(ctx context.Context, tx *sql.Tx, pipeline string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT env_name FROM env_pipelines WHERE pipeline=? ORDER BY env_name`, pipeline)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var owners []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		owners = append(owners, n)
	}
	return owners, rows.Err()
}
