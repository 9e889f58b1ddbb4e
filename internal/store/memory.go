package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/approval-relay/internal/domain"
)

// MemoryStore — дефолтный бэкенд: потокобезопасная мапа в памяти процесса.
// Сырой доступ к мапе наружу не отдается — только атомарные операции контракта.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*domain.Request
	// subjects: subject_id -> id последнего созданного запроса (last-write-wins)
	subjects map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*domain.Request),
		subjects: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, subjectID string, payload map[string]interface{}) (*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// UUID коллизионно-устойчив; перегенерация под локом страхует даже
	// теоретический повтор — id никогда не переиспользуется
	id := uuid.New().String()
	for _, exists := s.requests[id]; exists; _, exists = s.requests[id] {
		id = uuid.New().String()
	}

	req := &domain.Request{
		ID:        id,
		SubjectID: subjectID,
		Payload:   payload,
		State:     domain.StatePending,
		CreatedAt: time.Now().UTC(),
	}
	s.requests[id] = req
	s.subjects[subjectID] = id
	return cloneRequest(req), nil
}

func (s *MemoryStore) AttachMessageRef(_ context.Context, id string, ref domain.MessageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return domain.ErrNotFound
	}

	replaced := req.MessageRef != nil
	refCopy := ref
	req.MessageRef = &refCopy
	if replaced {
		return domain.ErrMessageRefReplaced
	}
	return nil
}

func (s *MemoryStore) Decide(_ context.Context, id string, state domain.RequestState) (DecideResult, error) {
	if !state.IsTerminal() {
		return "", domain.ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return DecideNotFound, nil
	}
	if req.State.IsTerminal() {
		return DecideAlreadyDecided, nil
	}

	now := time.Now().UTC()
	req.State = state
	req.DecidedAt = &now
	return DecideApplied, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRequest(req), nil
}

func (s *MemoryStore) StatusBySubject(_ context.Context, subjectID string) (domain.RequestState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.subjects[subjectID]
	if !ok {
		return "", domain.ErrNotFound
	}
	req, ok := s.requests[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	return req.State, nil
}

func (s *MemoryStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = make(map[string]*domain.Request)
	s.subjects = make(map[string]string)
	return nil
}

// cloneRequest отдает копию, чтобы вызывающий не мог мутировать состояние в обход лока
func cloneRequest(req *domain.Request) *domain.Request {
	out := *req
	if req.MessageRef != nil {
		ref := *req.MessageRef
		out.MessageRef = &ref
	}
	return &out
}
