package agent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldaxis/fieldsync/internal/hub"
)

func TestAuthTokenTimesOutToEmptyToken(t *testing.T) {
	// No connection, no reply: the agent proceeds unauthenticated rather
	// than blocking the proxied request forever.
	b := NewBridge("ws://127.0.0.1:1/bridge")

	start := time.Now()
	token := b.AuthToken()

	assert.Empty(t, token)
	assert.GreaterOrEqual(t, time.Since(start), authTokenTimeout)
}

func TestAuthTokenReplyCorrelatedByMessageID(t *testing.T) {
	b := NewBridge("ws://127.0.0.1:1/bridge")

	done := make(chan string, 1)
	go func() { done <- b.AuthToken() }()

	// Pick up the outgoing request and answer it the way the hub would
	var req hub.Message
	select {
	case req = <-b.send:
	case <-time.After(time.Second):
		t.Fatal("no GET_AUTH_TOKEN request was queued")
	}
	require.Equal(t, hub.TypeGetAuthToken, req.Type)
	require.NotEmpty(t, req.MsgID)

	payload, err := json.Marshal(hub.AuthTokenPayload{Token: "fresh-token"})
	require.NoError(t, err)
	b.dispatch(hub.Message{Type: hub.TypeAuthToken, ReplyTo: req.MsgID, Payload: payload})

	select {
	case token := <-done:
		assert.Equal(t, "fresh-token", token)
	case <-time.After(time.Second):
		t.Fatal("reply never reached the waiting request")
	}
}

func TestMismatchedReplyIsIgnored(t *testing.T) {
	b := NewBridge("ws://127.0.0.1:1/bridge")

	done := make(chan string, 1)
	go func() { done <- b.AuthToken() }()

	var req hub.Message
	select {
	case req = <-b.send:
	case <-time.After(time.Second):
		t.Fatal("no request queued")
	}

	payload, _ := json.Marshal(hub.AuthTokenPayload{Token: "stale"})
	b.dispatch(hub.Message{Type: hub.TypeAuthToken, ReplyTo: "someone-else", Payload: payload})

	select {
	case token := <-done:
		assert.Empty(t, token, "a reply for another request must not satisfy this one")
	case <-time.After(authTokenTimeout + time.Second):
		t.Fatalf("request %s never timed out", req.MsgID)
	}
}

func TestSkipWaitingInvokesCallback(t *testing.T) {
	b := NewBridge("ws://127.0.0.1:1/bridge")

	called := make(chan struct{}, 1)
	b.OnSkipWaiting = func() { called <- struct{}{} }

	b.dispatch(hub.Message{Type: hub.TypeSkipWaiting})

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("SKIP_WAITING did not reach the callback")
	}
}

func TestSendSyncWakeQueuesMessage(t *testing.T) {
	b := NewBridge("ws://127.0.0.1:1/bridge")
	b.SendSyncWake()

	select {
	case msg := <-b.send:
		assert.Equal(t, hub.TypeSyncWake, msg.Type)
	default:
		t.Fatal("wake message was not queued")
	}
}
