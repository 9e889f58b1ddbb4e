package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных relay в Redis
	RedisNamespace = "apprelay"
)

// Ключи состояния (Store-бэкенд)
const (
	RedisKeyRequestIndex = RedisNamespace + ":requests:index"
	RedisKeySubjectIndex = RedisNamespace + ":subjects:index"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanDecisions — канал трансляции принятых решений оператора.
	// Best effort: источником правды остается HTTP-поллинг статуса.
	RedisChanDecisions = RedisNamespace + ":decisions"
)

// RedisKeyRequest — хеш с данными одного запроса
func RedisKeyRequest(id string) string {
	return fmt.Sprintf("%s:req:%s", RedisNamespace, id)
}

// RedisKeySubject — указатель "последний запрос субъекта"
func RedisKeySubject(subjectID string) string {
	return fmt.Sprintf("%s:subject:%s", RedisNamespace, subjectID)
}
