package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, LOWER($3), $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		if strings.Contains(err.Error(), "users_email_key") {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at, updated_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at, updated_at
		FROM users
		WHERE email=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

// ResolveUser looks a user up by ID first, then by email. Share grants accept
// either form of address.
func (s *PostgresStore) ResolveUser(ctx context.Context, emailOrID string) (User, error) {
	user, err := s.GetUserByID(ctx, emailOrID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}
	return s.GetUserByEmail(ctx, emailOrID)
}

// ---------------------------------------------------------------------------
// Refresh sessions (Postgres fallback when Redis is not configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// DeleteExpiredRefreshSessions is invoked by the opportunistic cleanup sweep.
func (s *PostgresStore) DeleteExpiredRefreshSessions(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE expires_at <= NOW() OR revoked_at IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh sessions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired refresh session rows: %w", err)
	}
	return affected, nil
}

// ---------------------------------------------------------------------------
// Files and the version ledger

// CreateFile inserts the file row and its initial version in one transaction.
// A file row without a version must never be observable.
func (s *PostgresStore) CreateFile(ctx context.Context, file File, comment string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create file: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO files (id, owner_id, name, content, content_hash, size_bytes, is_public)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, file.ID, file.OwnerID, file.Name, file.Content, file.ContentHash, file.SizeBytes, file.IsPublic); err != nil {
		return fmt.Errorf("insert file: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO file_versions (file_id, version_number, content, content_hash, size_bytes, comment, created_by)
		VALUES ($1, 1, $2, $3, $4, $5, $6)
	`, file.ID, file.Content, file.ContentHash, file.SizeBytes, comment, file.OwnerID); err != nil {
		return fmt.Errorf("insert initial version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create file: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFile(ctx context.Context, fileID string) (File, error) {
	var item File
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, content, content_hash, size_bytes, is_public, created_at, updated_at
		FROM files
		WHERE id=$1
	`, fileID).Scan(&item.ID, &item.OwnerID, &item.Name, &item.Content, &item.ContentHash, &item.SizeBytes, &item.IsPublic, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, fmt.Errorf("get file: %w", err)
	}
	return item, nil
}

// UpdateFileContent records a new version and moves the head, linearized per
// file by a row lock. When the digest matches the current head the call is a
// no-op and the existing head version number is returned with created=false.
func (s *PostgresStore) UpdateFileContent(ctx context.Context, fileID, newContent, newHash string, sizeBytes int64, authorID, comment string) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin update file: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentHash string
	err = tx.QueryRowContext(ctx, `SELECT content_hash FROM files WHERE id=$1 FOR UPDATE`, fileID).Scan(&currentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("lock file: %w", err)
	}

	var head int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version_number), 0) FROM file_versions WHERE file_id=$1
	`, fileID).Scan(&head); err != nil {
		return 0, false, fmt.Errorf("read head version: %w", err)
	}

	if currentHash == newHash {
		// Content unchanged: no version, no timestamp bump.
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("commit unchanged file: %w", err)
		}
		return head, false, nil
	}

	next := head + 1
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO file_versions (file_id, version_number, content, content_hash, size_bytes, comment, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, fileID, next, newContent, newHash, sizeBytes, comment, authorID); err != nil {
		return 0, false, fmt.Errorf("insert version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE files
		SET content=$2, content_hash=$3, size_bytes=$4, updated_at=NOW()
		WHERE id=$1
	`, fileID, newContent, newHash, sizeBytes); err != nil {
		return 0, false, fmt.Errorf("update file head: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit update file: %w", err)
	}
	return next, true, nil
}

func (s *PostgresStore) SetFileVisibility(ctx context.Context, fileID string, isPublic bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE files SET is_public=$2, updated_at=NOW() WHERE id=$1`, fileID, isPublic)
	if err != nil {
		return fmt.Errorf("set file visibility: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set file visibility rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RenameFile(ctx context.Context, fileID, name string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE files SET name=$2, updated_at=NOW() WHERE id=$1`, fileID, name)
	if err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename file rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFile removes the file; versions and shares go with it via ON DELETE
// CASCADE.
func (s *PostgresStore) DeleteFile(ctx context.Context, fileID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id=$1`, fileID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete file rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountOwnedFiles(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE owner_id=$1`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count owned files: %w", err)
	}
	return count, nil
}

const fileMetaColumns = `
	f.id, f.owner_id, u.display_name, f.name, f.size_bytes, f.is_public, f.created_at, f.updated_at
`

func (s *PostgresStore) scanFileMetas(rows *sql.Rows) ([]FileMeta, error) {
	items := make([]FileMeta, 0)
	for rows.Next() {
		var item FileMeta
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.OwnerName, &item.Name, &item.SizeBytes, &item.IsPublic, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan file meta: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file metas: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListOwnedFiles(ctx context.Context, ownerID string) ([]FileMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileMetaColumns+`
		FROM files f
		JOIN users u ON u.id = f.owner_id
		WHERE f.owner_id=$1
		ORDER BY f.updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list owned files: %w", err)
	}
	defer rows.Close()
	return s.scanFileMetas(rows)
}

func (s *PostgresStore) ListFilesSharedWith(ctx context.Context, granteeID string) ([]FileMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileMetaColumns+`
		FROM file_shares fs
		JOIN files f ON f.id = fs.file_id
		JOIN users u ON u.id = f.owner_id
		WHERE fs.grantee_id=$1
		ORDER BY f.updated_at DESC
	`, granteeID)
	if err != nil {
		return nil, fmt.Errorf("list shared files: %w", err)
	}
	defer rows.Close()
	return s.scanFileMetas(rows)
}

func (s *PostgresStore) ListPublicFiles(ctx context.Context, limit int) ([]FileMeta, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileMetaColumns+`
		FROM files f
		JOIN users u ON u.id = f.owner_id
		WHERE f.is_public
		ORDER BY f.updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list public files: %w", err)
	}
	defer rows.Close()
	return s.scanFileMetas(rows)
}

func (s *PostgresStore) ListVersions(ctx context.Context, fileID string) ([]FileVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.file_id, v.version_number, v.content_hash, v.size_bytes, COALESCE(v.comment, ''), v.created_by, COALESCE(u.display_name, ''), v.created_at
		FROM file_versions v
		LEFT JOIN users u ON u.id = v.created_by
		WHERE v.file_id=$1
		ORDER BY v.version_number DESC
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]FileVersion, 0)
	for rows.Next() {
		var item FileVersion
		if err := rows.Scan(
			&item.ID,
			&item.FileID,
			&item.VersionNumber,
			&item.ContentHash,
			&item.SizeBytes,
			&item.Comment,
			&item.CreatedBy,
			&item.CreatedByName,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, fileID string, versionNumber int) (FileVersion, error) {
	var item FileVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT v.id, v.file_id, v.version_number, v.content, v.content_hash, v.size_bytes, COALESCE(v.comment, ''), v.created_by, COALESCE(u.display_name, ''), v.created_at
		FROM file_versions v
		LEFT JOIN users u ON u.id = v.created_by
		WHERE v.file_id=$1 AND v.version_number=$2
	`, fileID, versionNumber).Scan(
		&item.ID,
		&item.FileID,
		&item.VersionNumber,
		&item.Content,
		&item.ContentHash,
		&item.SizeBytes,
		&item.Comment,
		&item.CreatedBy,
		&item.CreatedByName,
		&item.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return FileVersion{}, ErrNotFound
	}
	if err != nil {
		return FileVersion{}, fmt.Errorf("get version: %w", err)
	}
	return item, nil
}

// DeleteVersion removes a single historical version. The head version and the
// sole remaining version are protected; survivors are never renumbered.
func (s *PostgresStore) DeleteVersion(ctx context.Context, fileID string, versionNumber int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var fileExists bool
	if err := tx.QueryRowContext(ctx, `SELECT true FROM files WHERE id=$1 FOR UPDATE`, fileID).Scan(&fileExists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock file: %w", err)
	}

	var total, head int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(version_number), 0)
		FROM file_versions
		WHERE file_id=$1
	`, fileID).Scan(&total, &head); err != nil {
		return fmt.Errorf("read version bounds: %w", err)
	}

	if versionNumber == head {
		return ErrHeadVersion
	}
	if total <= 1 {
		return ErrOnlyVersion
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM file_versions WHERE file_id=$1 AND version_number=$2
	`, fileID, versionNumber)
	if err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete version rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete version: %w", err)
	}
	return nil
}

func (s *PostgresStore) VersionStats(ctx context.Context, fileID string) (VersionStats, error) {
	var stats VersionStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at), MAX(created_at), COALESCE(SUM(size_bytes), 0), COUNT(DISTINCT created_by)
		FROM file_versions
		WHERE file_id=$1
	`, fileID).Scan(&stats.TotalVersions, &stats.FirstCreatedAt, &stats.LastCreatedAt, &stats.TotalBytes, &stats.DistinctAuthors)
	if err != nil {
		return VersionStats{}, fmt.Errorf("version stats: %w", err)
	}
	return stats, nil
}

// ---------------------------------------------------------------------------
// Shares

// UpsertShare inserts or refreshes the single grant per (file, grantee).
func (s *PostgresStore) UpsertShare(ctx context.Context, share FileShare) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_shares (id, file_id, grantee_id, can_edit)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (file_id, grantee_id)
		DO UPDATE SET can_edit=EXCLUDED.can_edit, updated_at=NOW()
	`, share.ID, share.FileID, share.GranteeID, share.CanEdit)
	if err != nil {
		return fmt.Errorf("upsert share: %w", err)
	}
	return nil
}

// GetShare returns nil when no grant exists; absence is not an error.
func (s *PostgresStore) GetShare(ctx context.Context, fileID, granteeID string) (*FileShare, error) {
	var item FileShare
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file_id, grantee_id, can_edit, created_at, updated_at
		FROM file_shares
		WHERE file_id=$1 AND grantee_id=$2
	`, fileID, granteeID).Scan(&item.ID, &item.FileID, &item.GranteeID, &item.CanEdit, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get share: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) ListFileShares(ctx context.Context, fileID string) ([]FileShare, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fs.id, fs.file_id, fs.grantee_id, fs.can_edit, fs.created_at, fs.updated_at, u.display_name, u.email
		FROM file_shares fs
		JOIN users u ON u.id = fs.grantee_id
		WHERE fs.file_id=$1
		ORDER BY fs.created_at ASC
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("list file shares: %w", err)
	}
	defer rows.Close()

	items := make([]FileShare, 0)
	for rows.Next() {
		var item FileShare
		if err := rows.Scan(&item.ID, &item.FileID, &item.GranteeID, &item.CanEdit, &item.CreatedAt, &item.UpdatedAt, &item.GranteeName, &item.GranteeEmail); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return items, nil
}

// DeleteShare is idempotent: removing an absent grant succeeds.
func (s *PostgresStore) DeleteShare(ctx context.Context, fileID, granteeID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM file_shares WHERE file_id=$1 AND grantee_id=$2
	`, fileID, granteeID)
	if err != nil {
		return fmt.Errorf("delete share: %w", err)
	}
	return nil
}
