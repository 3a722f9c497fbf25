package hub

import "encoding/json"

// Message is the envelope for every frame crossing the hub: view
// notifications and the agent bridge's request/response pairs
type Message struct {
	Type    string          `json:"type"`
	MsgID   string          `json:"msgId,omitempty"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message types on the bridge and view channels
const (
	// Agent → main: request the current bearer token. The agent falls back
	// to an empty token if no reply arrives within its timeout.
	TypeGetAuthToken = "GET_AUTH_TOKEN"
	// Main → agent: reply carrying the token
	TypeAuthToken = "AUTH_TOKEN"
	// View → main → agent: apply a pending agent update immediately
	TypeSkipWaiting = "SKIP_WAITING"
	// Agent → main: platform background-sync fired, ask the sync manager to drain
	TypeSyncWake = "SYNC_WAKE"
	// Main → all views: a drain finished, carries the synced count
	TypeSyncComplete = "SYNC_COMPLETE"
	// Main → all views: a read model changed
	TypeReadModel = "READ_MODEL"
)

// AuthTokenPayload is the body of an AUTH_TOKEN reply
type AuthTokenPayload struct {
	Token string `json:"token"`
}

// SyncCompletePayload is the body of a SYNC_COMPLETE broadcast
type SyncCompletePayload struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}
