package domain

import "errors"

// EventKindPermission — единственный вид события, создающий Request.
// Остальные виды пересылаются оператору как информационные сообщения.
const EventKindPermission = "permission_requested"

var ErrMalformedEvent = errors.New("malformed inbound event")

// InboundEvent — входящее событие от внешнего агента (launcher)
type InboundEvent struct {
	Kind      string                 `json:"event"`
	SubjectID string                 `json:"machine_id"`
	Metadata  map[string]interface{} `json:"-"`
}

// Validate отбрасывает некорректные события на границе, до хранилища
func (e InboundEvent) Validate() error {
	if e.Kind == "" {
		return ErrMalformedEvent
	}
	if e.Kind == EventKindPermission && e.SubjectID == "" {
		return ErrMalformedEvent
	}
	return nil
}
