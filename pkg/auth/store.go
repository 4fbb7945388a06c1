package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/registrar/pkg/entities"
)

// SubjectStore resolves request identities to persisted subjects.
type SubjectStore interface {
	// EnsureSubject returns the subject for username, creating it if it
	// has never been seen before. The stored email is updated when the
	// identity carries a different one.
	EnsureSubject(ctx context.Context, identity Identity) (*Subject, error)

	// GetSubjectByUsername looks up an existing subject. Returns
	// entities.ErrNotFound when the subject has never been seen.
	GetSubjectByUsername(ctx context.Context, username string) (*Subject, error)
}

// SQLSubjectStore implements SubjectStore backed by database/sql.
type SQLSubjectStore struct {
	db *sql.DB
}

// NewSQLSubjectStore creates a subject store on top of db.
func NewSQLSubjectStore(db *sql.DB) *SQLSubjectStore {
	return &SQLSubjectStore{db: db}
}

func (s *SQLSubjectStore) EnsureSubject(ctx context.Context, identity Identity) (*Subject, error) {
	if identity.Username == "" {
		return nil, fmt.Errorf("identity has no username")
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subjects (username, email, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO NOTHING`,
		identity.Username, identity.Email, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure subject: %w", err)
	}

	subject, err := s.GetSubjectByUsername(ctx, identity.Username)
	if err != nil {
		return nil, err
	}

	// Keep the stored email current when the gateway or token starts
	// reporting one.
	if identity.Email != "" && identity.Email != subject.Email {
		_, err = s.db.ExecContext(ctx,
			`UPDATE subjects SET email = $1 WHERE id = $2`,
			identity.Email, subject.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update subject email: %w", err)
		}
		subject.Email = identity.Email
	}

	return subject, nil
}

func (s *SQLSubjectStore) GetSubjectByUsername(ctx context.Context, username string) (*Subject, error) {
	var subject Subject
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, created_at
		FROM subjects
		WHERE username = $1`,
		username,
	).Scan(&subject.ID, &subject.Username, &subject.Email, &subject.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, entities.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	return &subject, nil
}
