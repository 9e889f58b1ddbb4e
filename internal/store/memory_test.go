package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/approval-relay/internal/domain"
)

func TestCreateUniqueIDsAndPendingStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		req, err := s.Create(ctx, "mac-001", map[string]interface{}{"user": "alice"})
		require.NoError(t, err)
		assert.False(t, seen[req.ID], "id %s issued twice", req.ID)
		seen[req.ID] = true
		assert.Equal(t, domain.StatePending, req.State)
		assert.Nil(t, req.MessageRef)
	}

	state, err := s.StatusBySubject(ctx, "mac-001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, state)
}

func TestDecideExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	req, err := s.Create(ctx, "mac-001", nil)
	require.NoError(t, err)

	res, err := s.Decide(ctx, req.ID, domain.StateApproved)
	require.NoError(t, err)
	assert.Equal(t, DecideApplied, res)

	// Повторное решение с другим исходом не перезаписывает первое
	res, err = s.Decide(ctx, req.ID, domain.StateDenied)
	require.NoError(t, err)
	assert.Equal(t, DecideAlreadyDecided, res)

	got, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateApproved, got.State)
	assert.NotNil(t, got.DecidedAt)
}

func TestDecideUnknownID(t *testing.T) {
	s := NewMemoryStore()
	res, err := s.Decide(context.Background(), "no-such-id", domain.StateApproved)
	require.NoError(t, err)
	assert.Equal(t, DecideNotFound, res)
}

func TestDecideRejectsNonTerminalState(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	req, err := s.Create(ctx, "mac-001", nil)
	require.NoError(t, err)

	_, err = s.Decide(ctx, req.ID, domain.StatePending)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestConcurrentDecideSingleApplied(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	req, err := s.Create(ctx, "mac-001", nil)
	require.NoError(t, err)

	const attempts = 64
	results := make(chan DecideResult, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		state := domain.StateApproved
		if i%2 == 1 {
			state = domain.StateDenied
		}
		wg.Add(1)
		go func(st domain.RequestState) {
			defer wg.Done()
			res, err := s.Decide(ctx, req.ID, st)
			assert.NoError(t, err)
			results <- res
		}(state)
	}
	wg.Wait()
	close(results)

	var applied int
	for res := range results {
		if res == DecideApplied {
			applied++
		}
	}
	// Ни lost update, ни double-apply: ровно один победитель
	assert.Equal(t, 1, applied)

	got, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, got.State.IsTerminal())
}

func TestStatusBySubjectLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, err := s.Create(ctx, "mac-001", nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, "mac-001", nil)
	require.NoError(t, err)

	// Решение по СТАРОМУ запросу не видно через поллинг:
	// статус субъекта отражает последний созданный запрос
	res, err := s.Decide(ctx, first.ID, domain.StateApproved)
	require.NoError(t, err)
	assert.Equal(t, DecideApplied, res)

	state, err := s.StatusBySubject(ctx, "mac-001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, state)
}

func TestStatusBySubjectUnknown(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.StatusBySubject(context.Background(), "unknown-machine")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAttachMessageRef(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	req, err := s.Create(ctx, "mac-001", nil)
	require.NoError(t, err)

	ref := domain.MessageRef{ChatID: 42, MessageID: 1007}
	require.NoError(t, s.AttachMessageRef(ctx, req.ID, ref))

	got, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, got.MessageRef)
	assert.Equal(t, ref, *got.MessageRef)

	// Повторная привязка: последняя запись принимается, но помечается
	second := domain.MessageRef{ChatID: 42, MessageID: 1008}
	err = s.AttachMessageRef(ctx, req.ID, second)
	assert.ErrorIs(t, err, domain.ErrMessageRefReplaced)

	got, err = s.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, second, *got.MessageRef)

	assert.ErrorIs(t, s.AttachMessageRef(ctx, "no-such-id", ref), domain.ErrNotFound)
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	req, err := s.Create(ctx, "mac-001", nil)
	require.NoError(t, err)

	require.NoError(t, s.ClearAll(ctx))

	_, err = s.StatusBySubject(ctx, "mac-001")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Get(ctx, req.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	req, err := s.Create(ctx, "mac-001", nil)
	require.NoError(t, err)

	got, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	got.State = domain.StateDenied // мутация копии не должна трогать хранилище

	state, err := s.StatusBySubject(ctx, "mac-001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, state)
}
