// Package upload completes chunked uploads: merge, remote hand-off, metadata
// persistence and staging cleanup, one completion per session at a time.
package upload

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/docingest/backend/internal/events"
	"github.com/docingest/backend/internal/ingesterr"
	"github.com/docingest/backend/internal/models"
	"github.com/docingest/backend/internal/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Staging is the part of the storage layer the coordinator drives.
type Staging interface {
	ChunkSource
	Session(ctx context.Context, sessionID string) (*models.UploadSession, error)
	DeleteSession(sessionID string) error
	RemoveArtifact(sessionID string) error
	PromotedPath(key, name string) string
	Promote(sessionID, key, name string) (string, error)
	SaveReceipt(sessionID, contentHash string, obj *models.RemoteObject) error
	LoadReceipt(sessionID, contentHash string) (*models.RemoteObject, bool)
	RemoveReceipt(sessionID string) error
}

// RemoteStore hands a merged artifact to an external object store.
type RemoteStore interface {
	Upload(ctx context.Context, artifact *models.MergedArtifact, name string) (*models.RemoteObject, error)
}

// DocumentStore persists document metadata. SaveDocument must return the
// existing record when one with the same content hash and name exists.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc *models.IngestedDocument) (*models.IngestedDocument, error)
}

// Publisher receives pipeline events.
type Publisher interface {
	Publish(ev events.Event)
}

// Options configures the optional stages of a Coordinator.
type Options struct {
	Remote    RemoteStore   // nil keeps artifacts in the local files area
	Documents DocumentStore // nil skips metadata persistence
	Events    Publisher
	Timeout   time.Duration
	Logger    logrus.FieldLogger
}

// CompleteRequest is a completion signal for a staged session.
type CompleteRequest struct {
	SessionID string
	Name      string
	Extension string
}

// Validate checks the request fields.
func (r CompleteRequest) Validate() error {
	if err := storage.ValidateSessionID(r.SessionID); err != nil {
		return err
	}
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return ingesterr.Validation("name", "must not be empty")
	}
	if len(name) > 255 {
		return ingesterr.Validation("name", "must be at most 255 bytes")
	}
	ext := strings.TrimPrefix(r.Extension, ".")
	if len(ext) > 16 {
		return ingesterr.Validation("extension", "must be at most 16 bytes")
	}
	for _, c := range ext {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return ingesterr.Validation("extension", "must be alphanumeric")
		}
	}
	return nil
}

// FileName is the display name with the extension appended once.
func (r CompleteRequest) FileName() string {
	name := strings.TrimSpace(r.Name)
	ext := strings.TrimPrefix(r.Extension, ".")
	if ext == "" || strings.HasSuffix(strings.ToLower(name), "."+strings.ToLower(ext)) {
		return name
	}
	return name + "." + ext
}

type sessionStatus struct {
	state     models.SessionState
	stage     ingesterr.Stage
	err       string
	updatedAt time.Time
}

// Coordinator runs the completion state machine
// receiving -> completing -> merged -> handed_off -> finalized, with failed
// reachable from completing, merged and handed_off.
type Coordinator struct {
	store     Staging
	assembler *Assembler
	remote    RemoteStore
	docs      DocumentStore
	events    Publisher
	timeout   time.Duration
	log       *logrus.Entry

	mu       sync.Mutex
	inflight map[string]struct{}
	states   map[string]*sessionStatus

	newID func() string
	now   func() time.Time
}

// NewCoordinator creates a Coordinator over a staging store.
func NewCoordinator(store Staging, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coordinator{
		store:     store,
		assembler: NewAssembler(store),
		remote:    opts.Remote,
		docs:      opts.Documents,
		events:    opts.Events,
		timeout:   opts.Timeout,
		log:       logger.WithField("component", "coordinator"),
		inflight:  make(map[string]struct{}),
		states:    make(map[string]*sessionStatus),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// CompleteUpload merges a session, hands it off, persists its metadata and
// cleans up staging. A second call for a session whose completion is still
// running fails immediately with a concurrency error. On any failure the
// staged chunks stay in place so the caller can retry.
func (c *Coordinator) CompleteUpload(ctx context.Context, req CompleteRequest) (*models.IngestedDocument, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sessionID := req.SessionID

	if !c.acquire(sessionID) {
		c.log.WithField("session", sessionID).Warn("completion already in progress")
		return nil, ingesterr.Concurrency(sessionID)
	}
	defer c.release(sessionID)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	log := c.log.WithField("session", sessionID)
	start := c.now()
	c.setState(sessionID, models.SessionCompleting)

	// Stage 1: merge
	artifact, err := c.assembler.Merge(ctx, sessionID)
	if err != nil {
		return nil, c.fail(sessionID, ingesterr.StageMerge, err)
	}
	c.setState(sessionID, models.SessionMerged)
	log.WithFields(logrus.Fields{"chunks": artifact.ChunkCount, "size": artifact.Size}).Info("chunks merged")

	// Stage 2: hand-off
	name := req.FileName()
	url, err := c.handOff(ctx, log, artifact, name)
	if err != nil {
		return nil, c.fail(sessionID, ingesterr.StageUpload, err)
	}
	c.setState(sessionID, models.SessionHandedOff)

	// Stage 3: persist
	doc := &models.IngestedDocument{
		ID:          c.newID(),
		Name:        name,
		RemoteURL:   url,
		ContentHash: artifact.ContentHash,
		Size:        artifact.Size,
		CreatedAt:   c.now().UTC(),
	}
	if c.docs != nil {
		saved, err := c.docs.SaveDocument(ctx, doc)
		if err != nil {
			if ingesterr.KindOf(err) == "" {
				err = ingesterr.Persistence(sessionID, err)
			}
			return nil, c.fail(sessionID, ingesterr.StagePersist, err)
		}
		doc = saved
	}

	if c.remote == nil {
		if _, err := c.store.Promote(sessionID, artifact.ContentHash, name); err != nil {
			return nil, c.fail(sessionID, ingesterr.StageUpload, ingesterr.Storage(ingesterr.StageUpload, sessionID, err))
		}
	}

	// Stage 4: cleanup, best effort
	c.cleanup(log, sessionID)
	c.setState(sessionID, models.SessionFinalized)

	log.WithFields(logrus.Fields{
		"document": doc.ID,
		"url":      doc.RemoteURL,
		"elapsed":  c.now().Sub(start).String(),
	}).Info("upload finalized")
	c.publish(events.Event{Type: events.TypeUploadFinalized, Subject: sessionID, Payload: doc})

	return doc, nil
}

// handOff returns the URL the document will be recorded under. A receipt
// from an earlier attempt with identical content is reused instead of
// uploading again.
func (c *Coordinator) handOff(ctx context.Context, log *logrus.Entry, artifact *models.MergedArtifact, name string) (string, error) {
	if c.remote == nil {
		// The artifact is moved only after persistence succeeds.
		return "file://" + c.store.PromotedPath(artifact.ContentHash, name), nil
	}

	if obj, ok := c.store.LoadReceipt(artifact.SessionID, artifact.ContentHash); ok {
		log.WithField("public_id", obj.PublicID).Info("reusing remote object from earlier attempt")
		return obj.SecureURL, nil
	}

	obj, err := c.remote.Upload(ctx, artifact, name)
	if err != nil {
		if ingesterr.KindOf(err) == "" {
			err = ingesterr.RemoteUpload(artifact.SessionID, 0, "", err)
		}
		return "", err
	}

	if err := c.store.SaveReceipt(artifact.SessionID, artifact.ContentHash, obj); err != nil {
		log.WithError(err).Warn("failed to save upload receipt")
	}
	log.WithFields(logrus.Fields{"public_id": obj.PublicID, "kind": obj.Kind}).Info("artifact handed off")
	return obj.SecureURL, nil
}

func (c *Coordinator) cleanup(log *logrus.Entry, sessionID string) {
	if err := c.store.DeleteSession(sessionID); err != nil {
		log.WithError(err).Warn("failed to delete staged chunks")
	}
	if err := c.store.RemoveArtifact(sessionID); err != nil {
		log.WithError(err).Warn("failed to delete merged artifact")
	}
	if err := c.store.RemoveReceipt(sessionID); err != nil {
		log.WithError(err).Warn("failed to delete upload receipt")
	}
}

// fail records a failed stage and returns the typed error for it.
func (c *Coordinator) fail(sessionID string, stage ingesterr.Stage, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ingesterr.ErrTimeout) {
		err = ingesterr.Timeout(stage, sessionID, err)
	} else {
		err = ingesterr.Stamp(err, stage, sessionID)
	}

	log := c.log.WithFields(logrus.Fields{"session": sessionID, "stage": stage})

	// Nothing was staged: leave no trace of the attempt.
	if errors.Is(err, ingesterr.ErrNotFound) {
		c.mu.Lock()
		delete(c.states, sessionID)
		c.mu.Unlock()
		log.Info("completion requested for unknown session")
		return err
	}

	c.mu.Lock()
	c.states[sessionID] = &sessionStatus{
		state:     models.SessionFailed,
		stage:     stage,
		err:       err.Error(),
		updatedAt: c.now(),
	}
	c.mu.Unlock()

	log.WithError(err).Error("completion failed")
	c.publish(events.Event{
		Type:    events.TypeUploadFailed,
		Subject: sessionID,
		Payload: map[string]string{"stage": string(stage), "error": err.Error()},
	})
	return err
}

func (c *Coordinator) acquire(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[sessionID]; busy {
		return false
	}
	c.inflight[sessionID] = struct{}{}
	return true
}

func (c *Coordinator) release(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, sessionID)
}

func (c *Coordinator) setState(sessionID string, state models.SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[sessionID] = &sessionStatus{state: state, updatedAt: c.now()}
}

func (c *Coordinator) publish(ev events.Event) {
	if c.events != nil {
		c.events.Publish(ev)
	}
}

// Status reports a session's staged chunks and completion state.
func (c *Coordinator) Status(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	if err := storage.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	st, tracked := c.states[sessionID]
	var snapshot sessionStatus
	if tracked {
		snapshot = *st
	}
	c.mu.Unlock()

	sess, err := c.store.Session(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ingesterr.ErrNotFound) || !tracked {
			return nil, err
		}
		sess = &models.UploadSession{ID: sessionID, ReceivedChunks: []int{}}
	}

	if tracked {
		sess.State = snapshot.state
		sess.Stage = string(snapshot.stage)
		sess.Error = snapshot.err
		sess.UpdatedAt = snapshot.updatedAt
	}
	return sess, nil
}

// CleanupOldStates forgets finalized and failed sessions older than maxAge.
func (c *Coordinator) CleanupOldStates(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-maxAge)
	removed := 0
	for id, st := range c.states {
		if st.state != models.SessionFinalized && st.state != models.SessionFailed {
			continue
		}
		if st.updatedAt.Before(cutoff) {
			delete(c.states, id)
			removed++
		}
	}
	return removed
}
