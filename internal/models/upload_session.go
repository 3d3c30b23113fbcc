package models

import "time"

// SessionState represents where an upload session is in the completion cycle.
type SessionState string

const (
	SessionReceiving  SessionState = "receiving"
	SessionCompleting SessionState = "completing"
	SessionMerged     SessionState = "merged"
	SessionHandedOff  SessionState = "handed_off"
	SessionFinalized  SessionState = "finalized"
	SessionFailed     SessionState = "failed"
)

// UploadSession describes a staged chunked upload.
type UploadSession struct {
	ID             string       `json:"id"`
	StagingDir     string       `json:"stagingDir,omitempty"`
	ReceivedChunks []int        `json:"receivedChunks"` // ascending, not necessarily contiguous
	State          SessionState `json:"state"`
	Stage          string       `json:"stage,omitempty"` // stage of the last failure
	Error          string       `json:"error,omitempty"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Chunk is one indexed fragment of a session.
type Chunk struct {
	SessionID string
	Index     int
	Data      []byte
}

// ChunkEntry is a staged chunk as found in the staging area, before its
// name has been parsed into an index.
type ChunkEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}
