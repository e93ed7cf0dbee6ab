package domain

import "time"

// MirrorStatus describes the local copy of the tracked repository.
type MirrorStatus struct {
	URL        string    `json:"url"`
	Branch     string    `json:"branch"`
	Status     string    `json:"status"` // cloning, ready, error
	Head       string    `json:"head,omitempty"`
	LastSyncAt time.Time `json:"last_sync_at,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
}

// MirrorStatus constants.
const (
	MirrorStatusEmpty   = "empty"
	MirrorStatusCloning = "cloning"
	MirrorStatusReady   = "ready"
	MirrorStatusError   = "error"
)

// SyncResult reports what a sync did.
type SyncResult struct {
	Head    string `json:"head"`
	Cloned  bool   `json:"cloned"`
	Updated bool   `json:"updated"`
}
