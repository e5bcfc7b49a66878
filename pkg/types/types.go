package types

import (
	"encoding/json"
	"time"
)

// MessageType identifies a realtime frame or bus envelope.
type MessageType string

const (
	// Inbound from clients.
	MessageJoinDocument    MessageType = "join-document"
	MessageLeaveDocument   MessageType = "leave-document"
	MessageCRDTUpdate      MessageType = "crdt-update"
	MessageAwarenessUpdate MessageType = "awareness-update"

	// Outbound to clients.
	MessageConnected       MessageType = "connected"
	MessageUsersInDocument MessageType = "users-in-document"
	MessageUserJoined      MessageType = "user-joined"
	MessageUserLeft        MessageType = "user-left"
	MessageError           MessageType = "error"
)

// Principal is the identity asserted by a verified bearer token.
type Principal struct {
	ID          string
	DisplayName string
}

// User returns the client-visible projection of p.
func (p *Principal) User() UserInfo {
	return UserInfo{PrincipalID: p.ID, DisplayName: p.DisplayName}
}

// Frame is the JSON message exchanged with clients over the websocket.
type Frame struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewFrame marshals data into a Frame. The payload types used by the hub
// cannot fail to marshal, so the error is discarded.
func NewFrame(t MessageType, data any) Frame {
	raw, _ := json.Marshal(data)
	return Frame{Type: t, Data: raw}
}

// Envelope is the message published on a document topic. Origin carries the
// socket id of the connection that produced the message so receiving
// instances can suppress the echo to the originator.
type Envelope struct {
	Type   MessageType     `json:"type"`
	Data   json.RawMessage `json:"data"`
	Origin string          `json:"origin"`
}

// Session is one principal's live attachment to one document through one
// connection. At most one session exists per (document, principal); a later
// join supersedes the earlier one.
type Session struct {
	PrincipalID string          `json:"principalId"`
	DisplayName string          `json:"displayName"`
	SocketID    string          `json:"socketId"`
	LastActive  int64           `json:"lastActive"` // epoch ms
	Cursor      json.RawMessage `json:"cursor,omitempty"`
}

// UserInfo is the client-visible projection of a session.
type UserInfo struct {
	PrincipalID string `json:"principalId"`
	DisplayName string `json:"displayName"`
}

// User returns the client-visible projection of s.
func (s *Session) User() UserInfo {
	return UserInfo{PrincipalID: s.PrincipalID, DisplayName: s.DisplayName}
}

// Snapshot is the cached latest content of a document. Version is a
// monotonic counter in wall-clock milliseconds.
type Snapshot struct {
	Body     string `json:"body"`
	Title    string `json:"title"`
	CachedAt int64  `json:"cachedAt"`
	Version  int64  `json:"version"`
}

// JobType identifies the kind of work a queue job carries.
type JobType string

// JobTypeDocumentUpdate persists a document snapshot through the data gateway.
const JobTypeDocumentUpdate JobType = "document-update"

// DocumentUpdate is the payload of a document-update job.
type DocumentUpdate struct {
	DocumentID  string            `json:"documentId"`
	PrincipalID string            `json:"principalId"`
	Title       *string           `json:"title,omitempty"`
	Body        *string           `json:"body,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Job is a unit of durable work drained by the queue worker.
type Job struct {
	ID           string          `json:"jobId"`
	Type         JobType         `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"maxAttempts"`
	BackoffMs    int64           `json:"backoffMs"`
	CreatedAt    int64           `json:"createdAt"`
	ScheduledFor int64           `json:"scheduledFor,omitempty"`

	// Set while the job sits in the processing set.
	ProcessingStartedAt int64 `json:"processingStartedAt,omitempty"`

	// Set when the job lands in the dead-letter list.
	Error    string `json:"error,omitempty"`
	FailedAt int64  `json:"failedAt,omitempty"`
}

// NowMs returns the current wall clock in epoch milliseconds, the unit used
// for session activity, snapshot versions and job scheduling.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
