package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionTag(t *testing.T) {
	tag, err := ParseActionTag("approve:3f1c2d")
	require.NoError(t, err)
	assert.Equal(t, ActionApprove, tag.Action)
	assert.Equal(t, "3f1c2d", tag.RequestID)

	tag, err = ParseActionTag("deny:3f1c2d")
	require.NoError(t, err)
	assert.Equal(t, ActionDeny, tag.Action)
}

func TestParseActionTagRoundTrip(t *testing.T) {
	orig := ActionTag{Action: ActionDeny, RequestID: "req-42"}
	parsed, err := ParseActionTag(orig.String())
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}

func TestParseActionTagRejectsGarbage(t *testing.T) {
	for _, raw := range []string{
		"",
		"approve",
		"approve:",
		"ban:req-1",
		"APPROVE:req-1",
		"approve_req-1",
	} {
		_, err := ParseActionTag(raw)
		assert.ErrorIs(t, err, ErrUnknownAction, "tag %q must be rejected", raw)
	}
}

func TestActionState(t *testing.T) {
	assert.Equal(t, StateApproved, ActionApprove.State())
	assert.Equal(t, StateDenied, ActionDeny.State())
}

func TestCanTransitionTo(t *testing.T) {
	req := &Request{State: StatePending}
	assert.NoError(t, req.CanTransitionTo(StateApproved))
	assert.ErrorIs(t, req.CanTransitionTo(StatePending), ErrInvalidTransition)

	req.State = StateDenied
	assert.ErrorIs(t, req.CanTransitionTo(StateApproved), ErrAlreadyDecided)
}

func TestInboundEventValidate(t *testing.T) {
	assert.ErrorIs(t, InboundEvent{}.Validate(), ErrMalformedEvent)
	assert.ErrorIs(t, InboundEvent{Kind: EventKindPermission}.Validate(), ErrMalformedEvent)
	assert.NoError(t, InboundEvent{Kind: EventKindPermission, SubjectID: "mac-001"}.Validate())
	// Информационным событиям subject не обязателен
	assert.NoError(t, InboundEvent{Kind: "heartbeat"}.Validate())
}
