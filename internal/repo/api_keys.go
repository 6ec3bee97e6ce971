package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"taskboard/internal/domain"
)

const apiKeyColumns = `id,actor_id,COALESCE(name,''),key_hash,created_at`

// HashAPIKey digests a presented key. Surrounding whitespace is not part of the key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func scanAPIKey(row rowScanner) (domain.APIKey, error) {
	var k domain.APIKey
	err := row.Scan(&k.ID, &k.ActorID, &k.Name, &k.KeyHash, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return k, ErrNotFound
	}
	return k, err
}

// InsertAPIKey stores key. KeyHash is the digest from HashAPIKey, never the secret.
func (r Repo) InsertAPIKey(ctx context.Context, tx *sql.Tx, key domain.APIKey) error {
	var missing []string
	for _, f := range [][2]string{
		{"id", key.ID}, {"actor_id", key.ActorID}, {"key_hash", key.KeyHash}, {"created_at", key.CreatedAt},
	} {
		if strings.TrimSpace(f[1]) == "" {
			missing = append(missing, f[0])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("api key: missing %s", strings.Join(missing, ", "))
	}
	_, err := r.exec(tx).ExecContext(ctx,
		`INSERT INTO api_keys(id,actor_id,name,key_hash,created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.ActorID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

// GetAPIKeyByHash resolves a presented key's digest to its owner.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	return scanAPIKey(r.DB.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=?`, hash))
}

// ListAPIKeys returns keys newest first, limited to actorID when it is set.
func (r Repo) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys`
	var args []any
	if actorID != "" {
		query += ` WHERE actor_id=?`
		args = append(args, actorID)
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY created_at DESC, rowid DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := []domain.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r Repo) DeleteAPIKey(ctx context.Context, id string) error {
	return r.DeleteAPIKeyTx(ctx, nil, id)
}

// DeleteAPIKeyTx revokes a key inside tx. An unknown id is ErrNotFound.
func (r Repo) DeleteAPIKeyTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(tx).ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}
