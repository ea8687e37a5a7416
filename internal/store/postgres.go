package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("store: not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	const insertUser = `
		INSERT INTO users (email, display_name, password_hash, role, department)
		VALUES (LOWER($1), $2, $3, $4, $5)
		RETURNING id, email, display_name, role, department, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, insertUser,
		user.Email, user.DisplayName, user.PasswordHash, user.Role, user.Department,
	).Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.Department, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const query = `
		SELECT id, email, display_name, password_hash, role, department, last_login_at, created_at, updated_at
		FROM users
		WHERE email = LOWER($1)
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash,
		&user.Role, &user.Department, &user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	const query = `
		SELECT id, email, display_name, password_hash, role, department, last_login_at, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash,
		&user.Role, &user.Department, &user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) TouchLastLogin(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at=NOW(), updated_at=NOW() WHERE id=$1`, userID)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.display_name, u.role, u.department
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.Department)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) InsertConsultation(ctx context.Context, item Consultation) (Consultation, error) {
	const insert = `
		INSERT INTO consultations (title, description, source, status, created_by)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, insert,
		item.Title, item.Description, item.Source, item.Status, item.CreatedBy,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Consultation{}, fmt.Errorf("insert consultation: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetConsultation(ctx context.Context, id string) (Consultation, error) {
	const query = `
		SELECT id, title, description, source, status, COALESCE(created_by::text, ''), created_at, updated_at
		FROM consultations
		WHERE id = $1
	`
	var item Consultation
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&item.ID, &item.Title, &item.Description, &item.Source, &item.Status,
		&item.CreatedBy, &item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Consultation{}, ErrNotFound
	}
	if err != nil {
		return Consultation{}, fmt.Errorf("get consultation: %w", err)
	}
	return item, nil
}

// ListConsultations pages through consultations newest-first, filtered by a
// case-insensitive substring match on title or description when query is
// non-blank.
func (s *PostgresStore) ListConsultations(ctx context.Context, query string, page, pageSize int) (ConsultationPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 5
	}

	where := ""
	args := []any{}
	if q := strings.TrimSpace(query); q != "" {
		where = `WHERE title ILIKE $1 OR description ILIKE $1`
		args = append(args, "%"+q+"%")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consultations `+where, args...).Scan(&total); err != nil {
		return ConsultationPage{}, fmt.Errorf("count consultations: %w", err)
	}

	listQuery := fmt.Sprintf(`
		SELECT id, title, description, source, status, COALESCE(created_by::text, ''), created_at, updated_at
		FROM consultations
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return ConsultationPage{}, fmt.Errorf("list consultations: %w", err)
	}
	defer rows.Close()

	items := make([]Consultation, 0)
	for rows.Next() {
		var item Consultation
		if err := rows.Scan(
			&item.ID, &item.Title, &item.Description, &item.Source, &item.Status,
			&item.CreatedBy, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return ConsultationPage{}, fmt.Errorf("scan consultation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return ConsultationPage{}, fmt.Errorf("iterate consultations: %w", err)
	}

	totalPages := (total + pageSize - 1) / pageSize
	return ConsultationPage{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// CountByStatus returns the dashboard tile counts over all consultations.
func (s *PostgresStore) CountByStatus(ctx context.Context) (StatusCounts, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'in_progress'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM consultations
	`
	var counts StatusCounts
	err := s.db.QueryRowContext(ctx, query).Scan(
		&counts.Total, &counts.Pending, &counts.InProgress, &counts.Completed, &counts.Cancelled,
	)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("count by status: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) UpdateConsultation(ctx context.Context, id, title, description, source, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE consultations
		SET title=$2, description=$3, source=$4, status=$5, updated_at=NOW()
		WHERE id=$1
	`, id, title, description, source, status)
	if err != nil {
		return fmt.Errorf("update consultation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteConsultation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM consultations WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete consultation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
