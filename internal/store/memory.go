// Package store persists interview sessions.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/spigell/grant-interviewer/internal/interview"
)

// Memory keeps sessions in process memory. Every call copies the context, so
// callers never share a live value with the store.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string][]byte)}
}

func (m *Memory) Load(ctx context.Context, sessionID string) (*interview.ConversationContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	data, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, interview.ErrNotFound
	}

	return decode(data)
}

func (m *Memory) Save(ctx context.Context, c *interview.ConversationContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encode(c)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sessions[c.SessionID] = data
	m.mu.Unlock()
	return nil
}

func encode(c *interview.ConversationContext) ([]byte, error) {
	if c == nil || c.SessionID == "" {
		return nil, fmt.Errorf("context without session id")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal session %s: %w", c.SessionID, err)
	}
	return data, nil
}

func decode(data []byte) (*interview.ConversationContext, error) {
	var c interview.ConversationContext
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &c, nil
}
