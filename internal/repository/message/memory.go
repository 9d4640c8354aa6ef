package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/aniladanir/wa-inbox/internal/domain"
)

// memory keeps messages in process. It backs the service when no database is configured.
type memory struct {
	mtx    sync.RWMutex
	seq    uint
	byID   map[string]int
	values []domain.Message
}

func NewMemoryRepository() Repository {
	return &memory{byID: make(map[string]int)}
}

func (m *memory) FindByMessageID(_ context.Context, msgID string) (domain.Message, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	idx, ok := m.byID[msgID]
	if !ok {
		return domain.Message{}, ErrNotFound
	}
	return m.values[idx], nil
}

func (m *memory) UpsertByMessageID(_ context.Context, msg *domain.Message) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	now := time.Now().UTC()
	msg.UpdatedAt = now

	if idx, ok := m.byID[msg.MessageID]; ok {
		existing := m.values[idx]
		msg.ID = existing.ID
		msg.CreatedAt = existing.CreatedAt
		m.values[idx] = *msg
		return nil
	}

	m.seq++
	msg.ID = m.seq
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	m.byID[msg.MessageID] = len(m.values)
	m.values = append(m.values, *msg)
	return nil
}

func (m *memory) UpdateStatus(_ context.Context, msgID string, status domain.Status) (domain.Message, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	idx, ok := m.byID[msgID]
	if !ok {
		return domain.Message{}, ErrNotFound
	}
	m.values[idx].Status = status
	m.values[idx].UpdatedAt = time.Now().UTC()
	return m.values[idx], nil
}

func (m *memory) ListAll(_ context.Context) ([]domain.Message, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return slices.Clone(m.values), nil
}

func (m *memory) ListByConversation(_ context.Context, waID string) ([]domain.Message, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	var out []domain.Message
	for _, msg := range m.values {
		if msg.WaID == waID {
			out = append(out, msg)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out, nil
}

func (m *memory) ListByDirectionStatus(_ context.Context, dir domain.Direction, status domain.Status, limit int) ([]domain.Message, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	var out []domain.Message
	for _, msg := range m.values {
		if len(out) == limit {
			break
		}
		if msg.Direction == dir && msg.Status == status {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memory) Count(_ context.Context) (int64, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return int64(len(m.values)), nil
}

func (m *memory) DeleteAll(_ context.Context) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.byID = make(map[string]int)
	m.values = nil
	return nil
}
