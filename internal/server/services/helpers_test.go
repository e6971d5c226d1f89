package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/server/models"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/armadillo/internal/timex"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// backends returns a flat-file and an in-memory sqlite manager.
func backends(t *testing.T) map[string]repomanager.RepositoryManager {
	t.Helper()
	ctx := context.Background()

	file, err := repomanager.Open(ctx, "", filepath.Join(t.TempDir(), "armadillo.json"), nil)
	require.NoError(t, err)
	lite, err := repomanager.Open(ctx, "sqlite::memory:", "", nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		file.Close()
		lite.Close()
	})
	return map[string]repomanager.RepositoryManager{"file": file, "sqlite": lite}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (p *fakePublisher) Publish(ev models.ChangeEvent) (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return 1, 0
}

func (p *fakePublisher) Events() []models.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ChangeEvent(nil), p.events...)
}

type fakeRecorder struct {
	mu       sync.Mutex
	pushes   map[string]int
	produced map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{pushes: map[string]int{}, produced: map[string]int{}}
}

func (r *fakeRecorder) Push(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes[outcome]++
}

func (r *fakeRecorder) EventPublished(eventType string, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.produced[eventType]++
}

func (r *fakeRecorder) pushCount(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushes[outcome]
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemObjects() *memObjects { return &memObjects{objects: map[string][]byte{}} }

func (m *memObjects) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memObjects) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjects) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func newClock() *timex.Fake { return timex.NewFake(epoch) }

func anon(hint string) models.AuthContext {
	return models.AuthContext{OwnerID: common.OwnerPrefixAnon + hint, Subject: hint, Source: models.SourceAnonymous}
}

func user(id string) models.AuthContext {
	return models.AuthContext{OwnerID: common.OwnerPrefixUser + id, Subject: id, Source: models.SourceAuth}
}
