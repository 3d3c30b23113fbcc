package models

import "time"

// RemoteObject is what the remote object store returned for an upload.
type RemoteObject struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Format    string `json:"format"`
	Kind      string `json:"kind,omitempty"`
	Width     *int   `json:"width,omitempty"`
	Height    *int   `json:"height,omitempty"`
}

// IngestedDocument is the persisted record of a finalized upload.
type IngestedDocument struct {
	ID          string    `json:"id" msgpack:"id"`
	Name        string    `json:"name" msgpack:"name"`
	RemoteURL   string    `json:"remoteUrl" msgpack:"remoteUrl"`
	ContentHash string    `json:"contentHash" msgpack:"contentHash"`
	Size        int64     `json:"size" msgpack:"size"`
	CreatedAt   time.Time `json:"createdAt" msgpack:"createdAt"`
}
