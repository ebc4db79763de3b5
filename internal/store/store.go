// Package store persists chats, messages, and run records in Postgres.
// Persistence failures are logged by callers and never block the
// orchestration loop.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Store wraps the Postgres connection.
type Store struct {
	DB *sql.DB
}

// ImageArtifact is one produced image attached to a message.
type ImageArtifact struct {
	ImageID   string
	LocalPath string
	ObjectURL string
	Kind      string // "base" or "zoom"
}

// MessageRecord is one persisted conversation message.
type MessageRecord struct {
	ID        string
	ChatID    string
	Role      string
	Content   string
	CreatedAt time.Time
	Images    []ImageArtifact
}

// RunRecord captures one orchestration run's outcome and usage.
type RunRecord struct {
	ID               string
	ChatID           string
	Question         string
	Mode             string
	State            string
	Steps            int
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	Error            string
	CreatedAt        time.Time
	FinishedAt       *time.Time
}

// New opens a Postgres connection and verifies it.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// EnsureChat creates a chat row if it does not exist and returns its id.
func (s *Store) EnsureChat(ctx context.Context, chatID, title string) (string, error) {
	if chatID == "" {
		chatID = uuid.NewString()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO chats (id, title, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO NOTHING`, chatID, title)
	if err != nil {
		return "", fmt.Errorf("failed to ensure chat: %w", err)
	}
	return chatID, nil
}

// SaveMessage persists one message and its image artifacts.
func (s *Store) SaveMessage(ctx context.Context, msg MessageRecord) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		msg.ID, msg.ChatID, msg.Role, msg.Content)
	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}
	for _, img := range msg.Images {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO message_images (id, message_id, image_id, local_path, object_url, kind, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
			uuid.NewString(), msg.ID, img.ImageID, img.LocalPath, img.ObjectURL, img.Kind)
		if err != nil {
			return "", fmt.Errorf("failed to insert message image: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit message: %w", err)
	}
	return msg.ID, nil
}

// RecentMessages returns up to limit messages for a chat, oldest first.
func (s *Store) RecentMessages(ctx context.Context, chatID string, limit int) ([]MessageRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, chat_id, role, content, created_at
		FROM (
			SELECT id, chat_id, role, content, created_at
			FROM messages WHERE chat_id = $1
			ORDER BY created_at DESC LIMIT $2
		) t ORDER BY created_at ASC`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	var out []MessageRecord
	for rows.Next() {
		var m MessageRecord
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateRun inserts a run record in its initial state.
func (s *Store) CreateRun(ctx context.Context, run RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, chat_id, question, mode, state, steps, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		run.ID, run.ChatID, run.Question, run.Mode, run.State, run.Steps)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun records a run's terminal state and usage.
func (s *Store) FinishRun(ctx context.Context, run RunRecord) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE runs SET state = $2, steps = $3, prompt_tokens = $4,
			completion_tokens = $5, total_tokens = $6, error = $7, finished_at = NOW()
		WHERE id = $1`,
		run.ID, run.State, run.Steps, run.PromptTokens, run.CompletionTokens, run.TotalTokens, run.Error)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}
