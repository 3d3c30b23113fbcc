package models

// MergedArtifact is the reassembled payload of a session, ordered by numeric
// chunk index. It lives on disk until the session is finalized.
type MergedArtifact struct {
	SessionID   string `json:"sessionId"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ChunkCount  int    `json:"chunkCount"`
	ContentHash string `json:"contentHash"` // hex SHA-256
}
