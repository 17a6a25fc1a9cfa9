package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, username, display_name, password_hash, role, deactivated_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	var deactivated sql.NullTime
	err := row.Scan(&user.ID, &user.Username, &user.DisplayName, &user.PasswordHash, &user.Role, &deactivated, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	if deactivated.Valid {
		user.DeactivatedAt = &deactivated.Time
	}
	return user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Username, user.DisplayName, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SaveSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO login_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE login_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupSession(ctx context.Context, tokenHash string) (User, error) {
	query := `
		SELECT u.id, u.username, u.display_name, u.password_hash, u.role, u.deactivated_at, u.created_at, u.updated_at
		FROM login_sessions ls
		JOIN users u ON u.id = ls.user_id
		WHERE ls.token_hash = $1
			AND ls.revoked_at IS NULL
			AND ls.expires_at > NOW()
	`
	return scanUser(s.db.QueryRowContext(ctx, query, tokenHash))
}

func (s *PostgresStore) SaveAutosave(ctx context.Context, userID string, fields map[string]string) (time.Time, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return time.Time{}, fmt.Errorf("marshal autosave: %w", err)
	}
	var savedAt time.Time
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO autosaves (user_id, fields, saved_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (user_id) DO UPDATE SET fields=EXCLUDED.fields, saved_at=EXCLUDED.saved_at
		RETURNING saved_at
	`, userID, string(payload)).Scan(&savedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("save autosave: %w", err)
	}
	return savedAt, nil
}

// GetAutosave returns sql.ErrNoRows when the user has no autosave.
func (s *PostgresStore) GetAutosave(ctx context.Context, userID string) (Autosave, error) {
	var raw []byte
	item := Autosave{UserID: userID}
	err := s.db.QueryRowContext(ctx, `SELECT fields, saved_at FROM autosaves WHERE user_id=$1`, userID).Scan(&raw, &item.SavedAt)
	if err != nil {
		return Autosave{}, err
	}
	if err := json.Unmarshal(raw, &item.Fields); err != nil {
		return Autosave{}, fmt.Errorf("decode autosave: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetIssue(ctx context.Context, issueID string) (Issue, error) {
	var item Issue
	err := s.db.QueryRowContext(ctx, `SELECT id, newsletter_id, title, created_at FROM issues WHERE id=$1`, issueID).
		Scan(&item.ID, &item.NewsletterID, &item.Title, &item.CreatedAt)
	if err != nil {
		return Issue{}, err
	}
	return item, nil
}

// ToggleReady flips the user's readiness for an issue and returns the new value.
func (s *PostgresStore) ToggleReady(ctx context.Context, issueID, userID string) (bool, error) {
	var ready bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO issue_readiness (issue_id, user_id, ready)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (issue_id, user_id) DO UPDATE SET ready = NOT issue_readiness.ready, updated_at=NOW()
		RETURNING ready
	`, issueID, userID).Scan(&ready)
	if err != nil {
		return false, fmt.Errorf("toggle ready: %w", err)
	}
	return ready, nil
}

// ListContributors returns everyone with a live message in the issue.
func (s *PostgresStore) ListContributors(ctx context.Context, issueID string) ([]Contributor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT u.id, u.display_name, COALESCE(r.ready, FALSE)
		FROM messages m
		JOIN sections sec ON sec.id = m.section_id
		JOIN users u ON u.id = m.author_id
		LEFT JOIN issue_readiness r ON r.issue_id = sec.issue_id AND r.user_id = u.id
		WHERE sec.issue_id = $1 AND m.status <> 'deleted'
		ORDER BY u.display_name
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list contributors: %w", err)
	}
	defer rows.Close()

	items := make([]Contributor, 0)
	for rows.Next() {
		var item Contributor
		if err := rows.Scan(&item.UserID, &item.Name, &item.Ready); err != nil {
			return nil, fmt.Errorf("scan contributor: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributors: %w", err)
	}
	return items, nil
}

// ApplySortOrder moves every listed message in one transaction. A message or
// section that does not exist aborts the whole update.
func (s *PostgresStore) ApplySortOrder(ctx context.Context, entries []SortEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sort order tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, entry := range entries {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sections WHERE id=$1)`, entry.SectionID).Scan(&exists); err != nil {
			return fmt.Errorf("check section %s: %w", entry.SectionID, err)
		}
		if !exists {
			return fmt.Errorf("section %s: %w", entry.SectionID, sql.ErrNoRows)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE messages SET section_id=$2, position=$3, updated_at=NOW()
			WHERE id=$1 AND status <> 'deleted'
		`, entry.MessageID, entry.SectionID, entry.Position)
		if err != nil {
			return fmt.Errorf("reorder message %s: %w", entry.MessageID, err)
		}
		if err := requireRow(res); err != nil {
			return fmt.Errorf("message %s: %w", entry.MessageID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sort order: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	var item Message
	err := s.db.QueryRowContext(ctx, `
		SELECT id, section_id, author_id, title, body, position, status, updated_at
		FROM messages WHERE id=$1
	`, messageID).Scan(&item.ID, &item.SectionID, &item.AuthorID, &item.Title, &item.Body, &item.Position, &item.Status, &item.UpdatedAt)
	if err != nil {
		return Message{}, err
	}
	return item, nil
}

// MoveMessage appends the message to the end of another section.
func (s *PostgresStore) MoveMessage(ctx context.Context, messageID, sectionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET section_id=$2,
			position=(SELECT COALESCE(MAX(position), -1) + 1 FROM messages WHERE section_id=$2),
			updated_at=NOW()
		WHERE id=$1 AND EXISTS(SELECT 1 FROM sections WHERE id=$2)
	`, messageID, sectionID)
	if err != nil {
		return fmt.Errorf("move message: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SetMessageStatus(ctx context.Context, messageID, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET status=$2, updated_at=NOW() WHERE id=$1`, messageID, status)
	if err != nil {
		return fmt.Errorf("set message status: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) GetArticle(ctx context.Context, articleID string) (Article, error) {
	var item Article
	var author, prior sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, author_id, title, state, prior_state, updated_at FROM articles WHERE id=$1
	`, articleID).Scan(&item.ID, &author, &item.Title, &item.State, &prior, &item.UpdatedAt)
	if err != nil {
		return Article{}, err
	}
	item.AuthorID = author.String
	item.PriorState = prior.String
	return item, nil
}

func (s *PostgresStore) UpdateArticleState(ctx context.Context, articleID, state, priorState string) error {
	var prior any
	if priorState != "" {
		prior = priorState
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE articles SET state=$2, prior_state=$3, updated_at=NOW() WHERE id=$1
	`, articleID, state, prior)
	if err != nil {
		return fmt.Errorf("update article state: %w", err)
	}
	return requireRow(res)
}

// RecipientCounts returns one row per requested method. Methods with no count
// for the year report zero.
func (s *PostgresStore) RecipientCounts(ctx context.Context, yearID string, methodIDs []string) ([]RecipientCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.name, COALESCE(rc.recipients, 0)
		FROM notify_methods m
		LEFT JOIN recipient_counts rc ON rc.method_id = m.id AND rc.year_id = $1
		WHERE m.id = ANY($2)
		ORDER BY m.id
	`, yearID, methodIDs)
	if err != nil {
		return nil, fmt.Errorf("recipient counts: %w", err)
	}
	defer rows.Close()

	items := make([]RecipientCount, 0, len(methodIDs))
	for rows.Next() {
		var item RecipientCount
		if err := rows.Scan(&item.MethodID, &item.Name, &item.Count); err != nil {
			return nil, fmt.Errorf("scan recipient count: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipient counts: %w", err)
	}
	return items, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsNotFound reports whether err means the addressed row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
