package stores

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cachedeck/cachedeck/pkg/core"
)

type sqliteConnections struct {
	store *SQLiteStore
}

// List returns all connection profiles ordered by creation time
// descending.
func (r *sqliteConnections) List(ctx context.Context) ([]*core.ConnectionProfile, error) {
	query := `
		SELECT id, name, engine, host, port, environment, read_only, force_read_only,
		       timeout_ms, retry_policy, labels, created_at, updated_at
		FROM connection_profiles
		ORDER BY created_at DESC
	`

	rows, err := r.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, core.NewInternalFailure("failed to list connections", err)
	}
	defer rows.Close()

	var profiles []*core.ConnectionProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewInternalFailure("failed to list connections", err)
	}
	return profiles, nil
}

// FindByID retrieves a connection profile by id.
func (r *sqliteConnections) FindByID(ctx context.Context, id string) (*core.ConnectionProfile, error) {
	query := `
		SELECT id, name, engine, host, port, environment, read_only, force_read_only,
		       timeout_ms, retry_policy, labels, created_at, updated_at
		FROM connection_profiles
		WHERE id = ?
	`

	profile, err := scanProfile(r.store.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, core.NewValidationFailure(fmt.Sprintf("connection %s not found", id), nil)
	}
	return profile, err
}

// Save upserts a connection profile.
func (r *sqliteConnections) Save(ctx context.Context, profile *core.ConnectionProfile) error {
	retryPolicy, err := marshalJSON(profile.DefaultRetryPolicy)
	if err != nil {
		return err
	}
	labels := sql.NullString{}
	if len(profile.Labels) > 0 {
		labels, err = marshalJSON(profile.Labels)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO connection_profiles (id, name, engine, host, port, environment, read_only,
		                                 force_read_only, timeout_ms, retry_policy, labels,
		                                 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			engine = excluded.engine,
			host = excluded.host,
			port = excluded.port,
			environment = excluded.environment,
			read_only = excluded.read_only,
			force_read_only = excluded.force_read_only,
			timeout_ms = excluded.timeout_ms,
			retry_policy = excluded.retry_policy,
			labels = excluded.labels,
			updated_at = excluded.updated_at
	`

	_, err = r.store.db.ExecContext(ctx, query,
		profile.ID,
		profile.Name,
		string(profile.Engine),
		profile.Host,
		profile.Port,
		string(profile.Environment),
		profile.ReadOnly,
		profile.ForceReadOnly,
		profile.TimeoutMs,
		retryPolicy,
		labels,
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	if err != nil {
		return core.NewInternalFailure("failed to save connection", err)
	}
	return nil
}

// Delete removes a connection profile; its secret cascades away.
func (r *sqliteConnections) Delete(ctx context.Context, id string) error {
	result, err := r.store.db.ExecContext(ctx, "DELETE FROM connection_profiles WHERE id = ?", id)
	if err != nil {
		return core.NewInternalFailure("failed to delete connection", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.NewInternalFailure("failed to delete connection", err)
	}
	if affected == 0 {
		return core.NewValidationFailure(fmt.Sprintf("connection %s not found", id), nil)
	}
	return nil
}

type sqliteSecrets struct {
	store *SQLiteStore
}

// SaveSecret upserts the secret for a connection.
func (r *sqliteSecrets) SaveSecret(ctx context.Context, connectionID, secret string) error {
	query := `
		INSERT INTO connection_secrets (connection_id, secret, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(connection_id) DO UPDATE SET
			secret = excluded.secret,
			updated_at = excluded.updated_at
	`
	if _, err := r.store.db.ExecContext(ctx, query, connectionID, secret); err != nil {
		return core.NewInternalFailure("failed to save secret", err)
	}
	return nil
}

// GetSecret fetches the secret for a connection. A missing secret is a
// VALIDATION_ERROR, which callers treat as "no secret stored".
func (r *sqliteSecrets) GetSecret(ctx context.Context, connectionID string) (string, error) {
	var secret string
	err := r.store.db.QueryRowContext(ctx,
		"SELECT secret FROM connection_secrets WHERE connection_id = ?", connectionID).Scan(&secret)
	if err == sql.ErrNoRows {
		return "", core.NewValidationFailure(
			fmt.Sprintf("no secret stored for connection %s", connectionID), nil)
	}
	if err != nil {
		return "", core.NewInternalFailure("failed to get secret", err)
	}
	return secret, nil
}

// DeleteSecret removes the secret for a connection. Deleting an absent
// secret is not an error.
func (r *sqliteSecrets) DeleteSecret(ctx context.Context, connectionID string) error {
	if _, err := r.store.db.ExecContext(ctx,
		"DELETE FROM connection_secrets WHERE connection_id = ?", connectionID); err != nil {
		return core.NewInternalFailure("failed to delete secret", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (*core.ConnectionProfile, error) {
	profile := &core.ConnectionProfile{}
	var engine, environment string
	var retryPolicy, labels sql.NullString

	err := row.Scan(
		&profile.ID,
		&profile.Name,
		&engine,
		&profile.Host,
		&profile.Port,
		&environment,
		&profile.ReadOnly,
		&profile.ForceReadOnly,
		&profile.TimeoutMs,
		&retryPolicy,
		&labels,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, core.NewInternalFailure("failed to scan connection", err)
	}

	profile.Engine = core.CacheEngine(engine)
	profile.Environment = core.Environment(environment)
	if err := unmarshalJSON(retryPolicy, &profile.DefaultRetryPolicy); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(labels, &profile.Labels); err != nil {
		return nil, err
	}
	return profile, nil
}
