// Package memory maintains the rolling conversation summary that keeps a
// bounded conversation anchored once older turns fall out of the prompt.
package memory

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loliloopp/aizoomdoc-sub000/provider"
)

const keyPrefix = "aizoomdoc:memory:"

const summaryPrompt = `You maintain a running summary of a conversation about technical documents.
Fold the new exchange into the existing summary. Keep every fact, figure,
page reference and open question that later turns may need. Stay under 250
words. Respond with the updated summary only.`

// Manager produces and caches rolling summaries. Summaries live in Redis
// when configured, with an in-process fallback otherwise.
type Manager struct {
	prov   provider.Provider
	model  string
	rdb    *redis.Client
	ttl    time.Duration
	logger *log.Logger

	mu    sync.RWMutex
	local map[string]string
}

// NewManager creates a summary manager. rdb may be nil.
func NewManager(prov provider.Provider, model string, rdb *redis.Client, ttl time.Duration, logger *log.Logger) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		prov:   prov,
		model:  model,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
		local:  make(map[string]string),
	}
}

// Get returns the current summary for a chat, or empty.
func (m *Manager) Get(ctx context.Context, chatID string) string {
	if m.rdb != nil {
		v, err := m.rdb.Get(ctx, keyPrefix+chatID).Result()
		if err == nil {
			return v
		}
		if err != redis.Nil && m.logger != nil {
			m.logger.Printf("warn: memory read failed for %s: %v", chatID, err)
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.local[chatID]
}

// Update folds the prior turn and the final answer into the rolling summary
// and caches the result. On provider failure the previous summary is kept;
// the error is returned for logging, never treated as run-fatal.
func (m *Manager) Update(ctx context.Context, chatID, question, answer string) (string, error) {
	prev := m.Get(ctx, chatID)

	var sb strings.Builder
	if prev != "" {
		sb.WriteString("Existing summary:\n")
		sb.WriteString(prev)
		sb.WriteString("\n\n")
	}
	sb.WriteString("New exchange:\nUser: ")
	sb.WriteString(question)
	sb.WriteString("\nAssistant: ")
	sb.WriteString(answer)

	messages := []provider.Message{
		{Role: provider.RoleSystem, Text: summaryPrompt},
		{Role: provider.RoleUser, Text: sb.String()},
	}
	summary, _, err := m.prov.Chat(ctx, m.model, messages)
	if err != nil {
		return prev, fmt.Errorf("failed to update memory summary: %w", err)
	}
	summary = strings.TrimSpace(summary)

	m.store(ctx, chatID, summary)
	return summary, nil
}

func (m *Manager) store(ctx context.Context, chatID, summary string) {
	if m.rdb != nil {
		if err := m.rdb.Set(ctx, keyPrefix+chatID, summary, m.ttl).Err(); err != nil {
			if m.logger != nil {
				m.logger.Printf("warn: memory write failed for %s: %v", chatID, err)
			}
		} else {
			return
		}
	}
	m.mu.Lock()
	m.local[chatID] = summary
	m.mu.Unlock()
}
