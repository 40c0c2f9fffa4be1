package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
)

const storyColumns = `id, account_id, story_type, title, length_type, content,
	metadata, generation_status, word_count, created_at, completed_at`

// CreateStory inserts a story record in its initial status.
func (s *Store) CreateStory(ctx context.Context, story *domain.Story) error {
	if story.Status == "" {
		story.Status = domain.GenerationPending
	}
	if story.CreatedAt.IsZero() {
		story.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stories (id, account_id, story_type, title, length_type, content, metadata, generation_status, word_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		story.ID, story.AccountID, story.StoryType, story.Title, story.LengthType,
		story.Content, story.Metadata, story.Status, story.WordCount, story.CreatedAt,
	)
	return err
}

// CompleteStory stores the finished content and marks the story complete.
func (s *Store) CompleteStory(ctx context.Context, id, title, content string, wordCount int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stories
		 SET title = ?, content = ?, word_count = ?, generation_status = ?, completed_at = ?
		 WHERE id = ?`,
		title, content, wordCount, domain.GenerationComplete, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrNotFound{Resource: "story", ID: id}
	}
	return nil
}

// FailStory marks a story as errored. Content written so far is kept for
// debugging.
func (s *Store) FailStory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stories SET generation_status = ? WHERE id = ?`,
		domain.GenerationError, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrNotFound{Resource: "story", ID: id}
	}
	return nil
}

// GetStory fetches a story by id.
func (s *Store) GetStory(ctx context.Context, id string) (*domain.Story, error) {
	story, err := scanStory(s.db.QueryRowContext(ctx,
		`SELECT `+storyColumns+` FROM stories WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.ErrNotFound{Resource: "story", ID: id}
		}
		return nil, err
	}
	return story, nil
}

// ListStories returns an account's stories, newest first.
func (s *Store) ListStories(ctx context.Context, accountID string, limit int) ([]domain.Story, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+storyColumns+` FROM stories
		 WHERE account_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stories []domain.Story
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, *story)
	}
	return stories, rows.Err()
}

// CreateExtra inserts a story extra.
func (s *Store) CreateExtra(ctx context.Context, extra *domain.StoryExtra) error {
	if extra.CreatedAt.IsZero() {
		extra.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO story_extras (id, story_id, extra_type, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		extra.ID, extra.StoryID, extra.ExtraType, extra.Content, extra.CreatedAt,
	)
	return err
}

// ListExtras returns all extras generated for a story.
func (s *Store) ListExtras(ctx context.Context, storyID string) ([]domain.StoryExtra, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, story_id, extra_type, content, created_at FROM story_extras
		 WHERE story_id = ? ORDER BY created_at, id`,
		storyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var extras []domain.StoryExtra
	for rows.Next() {
		var e domain.StoryExtra
		if err := rows.Scan(&e.ID, &e.StoryID, &e.ExtraType, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		extras = append(extras, e)
	}
	return extras, rows.Err()
}

func scanStory(row rowScanner) (*domain.Story, error) {
	var st domain.Story
	var completedAt sql.NullTime
	err := row.Scan(
		&st.ID, &st.AccountID, &st.StoryType, &st.Title, &st.LengthType,
		&st.Content, &st.Metadata, &st.Status, &st.WordCount, &st.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		st.CompletedAt = &t
	}
	return &st, nil
}
