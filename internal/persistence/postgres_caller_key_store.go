package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

const (
	keyCreated = "created"
	keyUpdated = "updated"
	keyDeleted = "deleted"
)

// PostgresCallerKeyStore implements CallerKeyStore with a PostgreSQL backend:
// bcrypt for verification, a SHA256 lookup hash for O(1) retrieval, soft
// deletes, and synchronous audit logging.
type PostgresCallerKeyStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPostgresCallerKeyStore wraps an already-healthy connection.
func NewPostgresCallerKeyStore(conn *Connection, logger *slog.Logger) *PostgresCallerKeyStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresCallerKeyStore{conn: conn, logger: logger}
}

// HealthCheck verifies the backing connection is reachable.
func (s *PostgresCallerKeyStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// FindByKey retrieves a caller key by its key value using O(1) hash lookup,
// then verifies the match with bcrypt. Active/expiry checks are left to the
// caller (the HTTP auth middleware), not enforced here.
func (s *PostgresCallerKeyStore) FindByKey(ctx context.Context, key string) (*CallerKey, bool) {
	if key == "" {
		return nil, false
	}

	lookupHash := ComputeKeyLookupHash(key)

	query := `
		SELECT id, key_hash, caller_id, name, permissions, created_at, expires_at, active
		FROM caller_keys
		WHERE key_lookup_hash = $1
		LIMIT 1
	`

	var (
		ck              CallerKey
		permissionsJSON []byte
	)

	err := s.conn.QueryRowContext(ctx, query, lookupHash).Scan(
		&ck.ID,
		&ck.Key,
		&ck.CallerID,
		&ck.Name,
		&permissionsJSON,
		&ck.CreatedAt,
		&ck.ExpiresAt,
		&ck.Active,
	)
	if err != nil {
		return nil, false
	}

	if err := json.Unmarshal(permissionsJSON, &ck.Permissions); err != nil {
		s.logger.Error("failed to parse caller key permissions", slog.String("error", err.Error()))

		return nil, false
	}

	if !CompareCallerKeyHash(ck.Key, key) {
		s.logger.Warn("caller key lookup hash matched but bcrypt verification failed",
			slog.String("key_id", ck.ID),
			slog.String("caller_id", ck.CallerID),
		)

		return nil, false
	}

	ck.Key = MaskKey(ck.Key)

	return &ck, true
}

// Add stores a new caller key with bcrypt hashing, a SHA256 lookup hash,
// and a synchronous audit log entry.
func (s *PostgresCallerKeyStore) Add(ctx context.Context, key *CallerKey) error {
	if key == nil {
		return ErrKeyNil
	}

	if existing, found := s.FindByKey(ctx, key.Key); found && existing != nil {
		return ErrKeyAlreadyExists
	}

	lookupHash := ComputeKeyLookupHash(key.Key)

	keyHash, err := HashCallerKey(key.Key)
	if err != nil {
		return fmt.Errorf("failed to hash caller key: %w", err)
	}

	permissionsJSON, err := permissionsToJSON(key.Permissions)
	if err != nil {
		return fmt.Errorf("failed to serialize permissions: %w", err)
	}

	query := `
		INSERT INTO caller_keys (id, key_hash, key_lookup_hash, caller_id, name, permissions, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.conn.ExecContext(
		ctx, query,
		key.ID, keyHash, lookupHash, key.CallerID, key.Name, permissionsJSON, key.CreatedAt, key.ExpiresAt, key.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to insert caller key: %w", err)
	}

	if err := s.logAudit(ctx, keyCreated, key, nil); err != nil {
		s.logger.Error("failed to write caller key audit log entry",
			slog.String("operation", keyCreated), slog.String("error", err.Error()))
	}

	return nil
}

// Update modifies name, permissions, active status, and expiration for an
// existing caller key. The key hash itself is immutable once issued.
func (s *PostgresCallerKeyStore) Update(ctx context.Context, key *CallerKey) error {
	if key == nil {
		return ErrKeyNil
	}

	if key.ID == "" {
		return ErrKeyNotFound
	}

	permissionsJSON, err := permissionsToJSON(key.Permissions)
	if err != nil {
		return fmt.Errorf("failed to serialize permissions: %w", err)
	}

	query := `
		UPDATE caller_keys
		SET name = $1, permissions = $2, active = $3, expires_at = $4, updated_at = now()
		WHERE id = $5
	`

	result, err := s.conn.ExecContext(ctx, query, key.Name, permissionsJSON, key.Active, key.ExpiresAt, key.ID)
	if err != nil {
		return fmt.Errorf("failed to update caller key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrKeyNotFound
	}

	if err := s.logAudit(ctx, keyUpdated, key, nil); err != nil {
		s.logger.Error("failed to write caller key audit log entry",
			slog.String("operation", keyUpdated), slog.String("error", err.Error()))
	}

	return nil
}

// Delete performs a soft delete, setting active=false so the audit trail
// stays intact.
func (s *PostgresCallerKeyStore) Delete(ctx context.Context, keyID string) error {
	if keyID == "" {
		return ErrKeyNotFound
	}

	query := `UPDATE caller_keys SET active = FALSE, updated_at = now() WHERE id = $1`

	result, err := s.conn.ExecContext(ctx, query, keyID)
	if err != nil {
		return fmt.Errorf("failed to delete caller key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrKeyNotFound
	}

	if err := s.logAudit(ctx, keyDeleted, &CallerKey{ID: keyID}, nil); err != nil {
		s.logger.Error("failed to write caller key audit log entry",
			slog.String("operation", keyDeleted), slog.String("error", err.Error()))
	}

	return nil
}

// ListByCaller returns all active caller keys issued to a specific caller.
func (s *PostgresCallerKeyStore) ListByCaller(ctx context.Context, callerID string) ([]*CallerKey, error) {
	if callerID == "" {
		return nil, ErrCallerIDEmpty
	}

	query := `
		SELECT id, key_hash, caller_id, name, permissions, created_at, expires_at, active
		FROM caller_keys
		WHERE caller_id = $1 AND active = TRUE
		ORDER BY created_at DESC
	`

	rows, err := s.conn.QueryContext(ctx, query, callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query caller keys: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var keys []*CallerKey

	for rows.Next() {
		var (
			ck              CallerKey
			permissionsJSON []byte
		)

		if err := rows.Scan(
			&ck.ID, &ck.Key, &ck.CallerID, &ck.Name, &permissionsJSON, &ck.CreatedAt, &ck.ExpiresAt, &ck.Active,
		); err != nil {
			continue
		}

		if err := json.Unmarshal(permissionsJSON, &ck.Permissions); err != nil {
			continue
		}

		ck.Key = MaskKey(ck.Key)

		keys = append(keys, &ck)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	if keys == nil {
		keys = []*CallerKey{}
	}

	return keys, nil
}

func permissionsToJSON(permissions []string) ([]byte, error) {
	if permissions == nil {
		permissions = []string{}
	}

	return json.Marshal(permissions)
}

// logAudit writes an audit log entry for a caller-key operation. Synchronous
// by design: compliance requires the entry to land before the call returns.
func (s *PostgresCallerKeyStore) logAudit(
	ctx context.Context,
	operation string,
	key *CallerKey,
	metadata map[string]interface{},
) error {
	maskedKey := MaskKey(key.Key)

	var (
		metadataJSON []byte
		err          error
	)

	if metadata == nil {
		metadataJSON = []byte("{}")
	} else {
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO caller_key_audit_log (caller_key_id, operation, masked_key, caller_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = s.conn.ExecContext(ctx, query, key.ID, operation, maskedKey, key.CallerID, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}
