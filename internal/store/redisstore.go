package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/approval-relay/internal/domain"
	"github.com/xela07ax/approval-relay/internal/infra"
)

// Скрипты выполняются на стороне Redis атомарно — это и дает линеаризуемость
// Decide без распределенных блокировок.
var decideScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return 'not_found' end
if state ~= 'pending' then return 'already_decided' end
redis.call('HSET', KEYS[1], 'state', ARGV[1], 'decided_at', ARGV[2])
return 'applied'
`)

var attachRefScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'not_found' end
local prev = redis.call('HGET', KEYS[1], 'chat_id')
redis.call('HSET', KEYS[1], 'chat_id', ARGV[1], 'message_id', ARGV[2])
if prev then return 'replaced' end
return 'ok'
`)

// RedisStore — бэкенд для инсталляций, где relay может перезапускаться,
// а pending-запросы терять нельзя. Контракт идентичен MemoryStore.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Create(ctx context.Context, subjectID string, payload map[string]interface{}) (*domain.Request, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("redis store: marshal payload: %w", err)
	}

	// Пайплайн: сам запрос, указатель "последний запрос субъекта" и индексы
	// для ClearAll уходят одним round trip
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, infra.RedisKeyRequest(id), map[string]interface{}{
		"subject_id": subjectID,
		"payload":    rawPayload,
		"state":      string(domain.StatePending),
		"created_at": now.Format(time.RFC3339Nano),
	})
	pipe.Set(ctx, infra.RedisKeySubject(subjectID), id, 0)
	pipe.SAdd(ctx, infra.RedisKeyRequestIndex, id)
	pipe.SAdd(ctx, infra.RedisKeySubjectIndex, subjectID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis store: create request: %w", err)
	}

	return &domain.Request{
		ID:        id,
		SubjectID: subjectID,
		Payload:   payload,
		State:     domain.StatePending,
		CreatedAt: now,
	}, nil
}

func (s *RedisStore) AttachMessageRef(ctx context.Context, id string, ref domain.MessageRef) error {
	res, err := attachRefScript.Run(ctx, s.rdb,
		[]string{infra.RedisKeyRequest(id)},
		ref.ChatID, ref.MessageID,
	).Text()
	if err != nil {
		return fmt.Errorf("redis store: attach message ref: %w", err)
	}

	switch res {
	case "not_found":
		return domain.ErrNotFound
	case "replaced":
		return domain.ErrMessageRefReplaced
	default:
		return nil
	}
}

func (s *RedisStore) Decide(ctx context.Context, id string, state domain.RequestState) (DecideResult, error) {
	if !state.IsTerminal() {
		return "", domain.ErrInvalidTransition
	}

	res, err := decideScript.Run(ctx, s.rdb,
		[]string{infra.RedisKeyRequest(id)},
		string(state), time.Now().UTC().Format(time.RFC3339Nano),
	).Text()
	if err != nil {
		return "", fmt.Errorf("redis store: decide: %w", err)
	}
	return DecideResult(res), nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Request, error) {
	fields, err := s.rdb.HGetAll(ctx, infra.RedisKeyRequest(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: get request: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	return requestFromHash(id, fields)
}

func (s *RedisStore) StatusBySubject(ctx context.Context, subjectID string) (domain.RequestState, error) {
	id, err := s.rdb.Get(ctx, infra.RedisKeySubject(subjectID)).Result()
	if err == redis.Nil {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis store: subject lookup: %w", err)
	}

	state, err := s.rdb.HGet(ctx, infra.RedisKeyRequest(id), "state").Result()
	if err == redis.Nil {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis store: state lookup: %w", err)
	}
	return domain.RequestState(state), nil
}

func (s *RedisStore) ClearAll(ctx context.Context) error {
	ids, err := s.rdb.SMembers(ctx, infra.RedisKeyRequestIndex).Result()
	if err != nil {
		return fmt.Errorf("redis store: list requests: %w", err)
	}
	subjects, err := s.rdb.SMembers(ctx, infra.RedisKeySubjectIndex).Result()
	if err != nil {
		return fmt.Errorf("redis store: list subjects: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, infra.RedisKeyRequest(id))
	}
	for _, subjectID := range subjects {
		pipe.Del(ctx, infra.RedisKeySubject(subjectID))
	}
	pipe.Del(ctx, infra.RedisKeyRequestIndex, infra.RedisKeySubjectIndex)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: clear: %w", err)
	}
	return nil
}

func requestFromHash(id string, fields map[string]string) (*domain.Request, error) {
	req := &domain.Request{
		ID:        id,
		SubjectID: fields["subject_id"],
		State:     domain.RequestState(fields["state"]),
	}

	if raw := fields["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Payload); err != nil {
			return nil, fmt.Errorf("redis store: unmarshal payload: %w", err)
		}
	}
	if raw := fields["created_at"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("redis store: parse created_at: %w", err)
		}
		req.CreatedAt = ts
	}
	if raw := fields["decided_at"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("redis store: parse decided_at: %w", err)
		}
		req.DecidedAt = &ts
	}
	if rawChat, ok := fields["chat_id"]; ok {
		chatID, err := strconv.ParseInt(rawChat, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis store: parse chat_id: %w", err)
		}
		messageID, err := strconv.ParseInt(fields["message_id"], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis store: parse message_id: %w", err)
		}
		req.MessageRef = &domain.MessageRef{ChatID: chatID, MessageID: messageID}
	}
	return req, nil
}
