package model

import (
	"encoding/json"
	"time"
)

// OutboxKind is the mutation kind an OutboxItem replays.
type OutboxKind string

const (
	KindCreate OutboxKind = "CREATE"
	KindUpdate OutboxKind = "UPDATE"
	KindDelete OutboxKind = "DELETE"
)

// EntityKind names which entity table an OutboxItem belongs to.
type EntityKind string

const (
	EntityMemo  EntityKind = "memo"
	EntityShelf EntityKind = "shelf"
)

// OutboxStatus is the lifecycle state of an OutboxItem (spec.md section 3).
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxWaiting OutboxStatus = "WAITING"
	OutboxSyncing OutboxStatus = "SYNCING"
	OutboxSuccess OutboxStatus = "SUCCESS"
	OutboxFailed  OutboxStatus = "FAILED"
)

// OutboxItem is a single entry in the append-only mutation log.
type OutboxItem struct {
	ID              string          `json:"id"`
	Kind            OutboxKind      `json:"kind"`
	EntityKind      EntityKind      `json:"entityKind"`
	LocalRef        string          `json:"localRef"`
	ServerRef       *int64          `json:"serverRef,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey  string          `json:"idempotencyKey"`
	Status          OutboxStatus    `json:"status"`
	RetryCount      int             `json:"retryCount"`
	LastError       string          `json:"lastError,omitempty"`
	OriginalQueueID *string         `json:"originalQueueId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	LastRetryAt     *time.Time      `json:"lastRetryAt,omitempty"`
}

// Clone returns a deep copy so callers can mutate a returned OutboxItem
// without aliasing the copy held by the Outbox Queue.
func (o *OutboxItem) Clone() *OutboxItem {
	if o == nil {
		return nil
	}
	out := *o
	if o.ServerRef != nil {
		v := *o.ServerRef
		out.ServerRef = &v
	}
	if o.OriginalQueueID != nil {
		v := *o.OriginalQueueID
		out.OriginalQueueID = &v
	}
	if o.LastRetryAt != nil {
		v := *o.LastRetryAt
		out.LastRetryAt = &v
	}
	if o.Payload != nil {
		out.Payload = append(json.RawMessage(nil), o.Payload...)
	}
	return &out
}

// InFlight reports whether the item currently occupies the single
// PENDING/SYNCING slot invariant (spec.md section 3, invariant 2).
func (o *OutboxItem) InFlight() bool {
	return o.Status == OutboxPending || o.Status == OutboxSyncing
}

// EntityRef is a tagged-variant lookup key: an entity is addressed either
// by its local UUID or by the server-assigned integer id, never both at
// once. This replaces the duck-typed "lookup by either id" pattern from
// the original implementation (spec.md section 9 design notes).
type EntityRef struct {
	local  string
	server int64
	isLocal bool
	isServer bool
}

// LocalRef builds an EntityRef addressing an entity by its local UUID.
func LocalRef(localID string) EntityRef {
	return EntityRef{local: localID, isLocal: true}
}

// ServerRefOf builds an EntityRef addressing an entity by its server id.
func ServerRefOf(serverID int64) EntityRef {
	return EntityRef{server: serverID, isServer: true}
}

// Local returns the local UUID and whether this ref is local-addressed.
func (r EntityRef) Local() (string, bool) { return r.local, r.isLocal }

// Server returns the server id and whether this ref is server-addressed.
func (r EntityRef) Server() (int64, bool) { return r.server, r.isServer }
