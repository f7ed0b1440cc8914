// Package upload implements the resumable chunked upload protocol: session
// lifecycle, contiguous chunk appends, checksum-verified finalization, and
// the structured errors the HTTP layer translates into responses.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/lgulliver/chunkd/internal/common"
	"github.com/lgulliver/chunkd/internal/storage"
	"github.com/lgulliver/chunkd/pkg/config"
	"github.com/lgulliver/chunkd/pkg/types"
)

const (
	// leaseTTL bounds how long a crashed instance can hold a session lease
	leaseTTL = 30 * time.Second

	// CompletedChannel is the Redis channel completion events are published on
	CompletedChannel = "chunkd.uploads.completed"
)

// Service orchestrates the upload protocol against the record store and the
// blob storage backend
type Service struct {
	DB      *common.Database
	Storage storage.BlobStorage
	Cache   *common.Cache // optional; enables cross-instance leases and events
	Config  *config.UploadConfig
	locks   *sessionLocks

	// OnCompletion is invoked after a session transitions to COMPLETE.
	// It is best-effort: failures are the hook's own responsibility and
	// never roll back the completed state.
	OnCompletion func(ctx context.Context, session *types.UploadSession)
}

// NewService creates a new upload service
func NewService(db *common.Database, blobStorage storage.BlobStorage, cache *common.Cache, cfg *config.UploadConfig) *Service {
	return &Service{
		DB:      db,
		Storage: blobStorage,
		Cache:   cache,
		Config:  cfg,
		locks:   newSessionLocks(),
	}
}

// ChunkRequest carries one validated-at-the-edge chunk submission
type ChunkRequest struct {
	// SessionID is nil when the client is creating a new session
	SessionID *uuid.UUID
	// UserID is uuid.Nil for anonymous requests
	UserID   uuid.UUID
	Filename string
	Chunk    []byte
	// ContentRange is the raw Content-Range header value
	ContentRange string
	// Whole marks a single-shot whole-file upload; the range is synthesized
	Whole bool
}

// PutChunk validates and applies one chunk submission. Chunks must arrive in
// exact contiguous order: a start that does not equal the current offset is
// always rejected, never reordered or merged.
func (s *Service) PutChunk(ctx context.Context, req *ChunkRequest) (*types.UploadSession, error) {
	var rng ByteRange
	if req.Whole {
		rng = WholeFileRange(int64(len(req.Chunk)))
	} else {
		var err error
		rng, err = ParseContentRange(req.ContentRange)
		if err != nil {
			return nil, err
		}
	}

	if s.Config.MaxBytes > 0 && rng.Total > s.Config.MaxBytes {
		return nil, errSizeLimitExceeded(s.Config.MaxBytes)
	}

	if int64(len(req.Chunk)) != rng.ChunkSize() {
		return nil, errRangeSizeMismatch(int64(len(req.Chunk)), rng.ChunkSize())
	}

	if req.SessionID == nil {
		return s.createSession(ctx, req)
	}

	unlock, err := s.lockSession(ctx, *req.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.getOwned(ctx, *req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.validateActive(session, time.Now()); err != nil {
		return nil, err
	}

	if session.Offset != rng.Start {
		return nil, errOffsetMismatch(session.Offset)
	}

	if err := s.appendChunk(ctx, session, req.Chunk); err != nil {
		return nil, err
	}

	return session, nil
}

// createSession persists the first chunk as the initial blob content and
// creates the session record with offset already advanced past it
func (s *Service) createSession(ctx context.Context, req *ChunkRequest) (*types.UploadSession, error) {
	if req.Filename == "" {
		return nil, errMissingField("'filename' is required")
	}

	session := &types.UploadSession{
		ID:       uuid.New(),
		UserID:   req.UserID,
		Filename: req.Filename,
		Offset:   int64(len(req.Chunk)),
		Status:   types.StatusUploading,
	}
	session.StoragePath = s.tempStoragePath(session.ID)

	if _, err := s.Storage.Store(ctx, session.StoragePath, bytes.NewReader(req.Chunk)); err != nil {
		return nil, errStorageFailure(err)
	}

	if err := s.DB.WithContext(ctx).Create(session).Error; err != nil {
		// The record never existed, so the blob is an orphan
		if derr := s.Storage.Delete(ctx, session.StoragePath); derr != nil {
			log.Warn().Err(derr).Str("path", session.StoragePath).Msg("failed to clean up orphaned blob")
		}
		return nil, errStorageFailure(err)
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("filename", session.Filename).
		Int64("offset", session.Offset).
		Msg("upload session created")

	return session, nil
}

// Complete finalizes a session: verifies the client checksum against the
// stored blob, renames the blob from its temporary name to the real
// extension, and transitions the session to COMPLETE exactly once.
func (s *Service) Complete(ctx context.Context, userID, sessionID uuid.UUID, checksum string) (*types.UploadSession, error) {
	if s.Config.ChecksumRequired {
		if sessionID == uuid.Nil || checksum == "" {
			return nil, errMissingField(fmt.Sprintf("both 'id' and '%s' are required", s.Config.ChecksumAlgorithm))
		}
	} else if sessionID == uuid.Nil {
		return nil, errMissingField("'id' is required")
	}

	unlock, err := s.lockSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.getOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	if err := s.validateActive(session, time.Now()); err != nil {
		return nil, err
	}

	if s.Config.ChecksumRequired {
		computed, err := s.ComputeChecksum(ctx, session)
		if err != nil {
			return nil, err
		}
		if computed != checksum {
			log.Warn().
				Str("session_id", session.ID.String()).
				Msg("checksum verification failed")
			return nil, errChecksumMismatch()
		}
	}

	finalPath := s.finalStoragePath(session)
	now := time.Now().UTC()

	// Record update commits first; if it fails the blob stays untouched.
	// The status condition makes the UPLOADING -> COMPLETE transition
	// happen at most once even across instances.
	result := s.DB.WithContext(ctx).Model(&types.UploadSession{}).
		Where("id = ? AND status = ?", session.ID, types.StatusUploading).
		Updates(map[string]interface{}{
			"status":       types.StatusComplete,
			"completed_at": now,
			"storage_path": finalPath,
		})
	if result.Error != nil {
		return nil, errStorageFailure(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, errConcurrentUpdate()
	}

	oldPath := session.StoragePath
	session.Status = types.StatusComplete
	session.CompletedAt = &now
	session.StoragePath = finalPath

	if err := s.Storage.Rename(ctx, oldPath, finalPath); err != nil {
		// The record is committed but the blob kept its temporary name.
		// Surfaced for operator reconciliation; the completion itself is
		// not rolled back.
		log.Error().Err(err).
			Str("session_id", session.ID.String()).
			Str("old_path", oldPath).
			Str("new_path", finalPath).
			Msg("blob rename failed after completion commit")
		return nil, errStorageFailure(err)
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("filename", session.Filename).
		Int64("size", session.Offset).
		Msg("upload session completed")

	s.notifyCompletion(ctx, session)

	return session, nil
}

// notifyCompletion runs the completion hook and publishes the completion
// event. Both are best-effort.
func (s *Service) notifyCompletion(ctx context.Context, session *types.UploadSession) {
	if s.OnCompletion != nil {
		s.OnCompletion(ctx, session)
	}

	if s.Cache == nil {
		return
	}

	event := types.UploadCompletedEvent{
		SessionID:   session.ID,
		Filename:    session.Filename,
		StoragePath: session.StoragePath,
		Size:        session.Offset,
		Checksum:    session.CachedChecksum,
		CompletedAt: *session.CompletedAt,
	}
	if err := s.Cache.Publish(ctx, CompletedChannel, event); err != nil {
		log.Warn().Err(err).
			Str("session_id", session.ID.String()).
			Msg("failed to publish completion event")
	}
}

// Get retrieves one session visible to the requester
func (s *Service) Get(ctx context.Context, userID, sessionID uuid.UUID) (*types.UploadSession, error) {
	return s.getOwned(ctx, sessionID, userID)
}

// List returns all sessions visible to the requester
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]types.UploadSession, error) {
	var sessions []types.UploadSession
	query := s.DB.WithContext(ctx).Order("created_at DESC")
	if s.Config.UserRestricted && userID != uuid.Nil {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.Find(&sessions).Error; err != nil {
		return nil, errStorageFailure(err)
	}
	return sessions, nil
}

// ListExpired returns sessions past their expiration window that never
// completed
func (s *Service) ListExpired(ctx context.Context) ([]types.UploadSession, error) {
	cutoff := time.Now().Add(-s.Config.ExpirationWindow)
	var sessions []types.UploadSession
	err := s.DB.WithContext(ctx).
		Where("created_at <= ? AND status = ?", cutoff, types.StatusUploading).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query expired sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes a session record and, unless suppressed, its blob
func (s *Service) Delete(ctx context.Context, userID, sessionID uuid.UUID, deleteBlob bool) error {
	unlock, err := s.lockSession(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	session, err := s.getOwned(ctx, sessionID, userID)
	if err != nil {
		return err
	}

	return s.deleteSession(ctx, session, deleteBlob)
}

// DeleteExpired removes all expired incomplete sessions and their blobs.
// Called by the background reaper.
func (s *Service) DeleteExpired(ctx context.Context) (int, error) {
	sessions, err := s.ListExpired(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for i := range sessions {
		if err := s.deleteSession(ctx, &sessions[i], true); err != nil {
			log.Warn().Err(err).
				Str("session_id", sessions[i].ID.String()).
				Msg("failed to remove expired session")
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Info().Int("count", removed).Msg("removed expired upload sessions")
	}

	return removed, nil
}

// deleteSession removes the record first; the blob is only touched once the
// record delete has committed
func (s *Service) deleteSession(ctx context.Context, session *types.UploadSession, deleteBlob bool) error {
	if err := s.DB.WithContext(ctx).Delete(&types.UploadSession{}, "id = ?", session.ID).Error; err != nil {
		return errStorageFailure(err)
	}

	if deleteBlob {
		if err := s.Storage.Delete(ctx, session.StoragePath); err != nil {
			log.Warn().Err(err).
				Str("session_id", session.ID.String()).
				Str("path", session.StoragePath).
				Msg("failed to delete blob for removed session")
		}
	}

	log.Info().Str("session_id", session.ID.String()).Msg("upload session deleted")
	return nil
}

// Response builds the client-facing representation of a session
func (s *Service) Response(session *types.UploadSession) *types.UploadSessionResponse {
	return &types.UploadSessionResponse{
		ID:          session.ID,
		URL:         fmt.Sprintf("%s/%s/", strings.TrimSuffix(s.Config.URLPrefix, "/"), session.ID),
		Filename:    session.Filename,
		Offset:      session.Offset,
		Status:      session.Status.String(),
		CreatedAt:   session.CreatedAt,
		CompletedAt: session.CompletedAt,
		ExpiresAt:   session.ExpiresAt(s.Config.ExpirationWindow),
	}
}

// lockSession serializes mutations for one session id: per-process mutex,
// plus a Redis lease when configured so concurrent instances conflict
// instead of racing
func (s *Service) lockSession(ctx context.Context, sessionID uuid.UUID) (func(), error) {
	unlock := s.locks.Lock(sessionID)

	if s.Cache == nil {
		return unlock, nil
	}

	key := "chunkd:upload:lease:" + sessionID.String()
	ok, err := s.Cache.AcquireLease(ctx, key, leaseTTL)
	if err != nil {
		unlock()
		return nil, errStorageFailure(err)
	}
	if !ok {
		unlock()
		return nil, errConcurrentUpdate()
	}

	return func() {
		if err := s.Cache.ReleaseLease(context.WithoutCancel(ctx), key); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to release upload lease")
		}
		unlock()
	}, nil
}

// getOwned loads a session, filtered to the requester when ownership
// restriction applies. Absent and forbidden are indistinguishable to the
// caller.
func (s *Service) getOwned(ctx context.Context, sessionID, userID uuid.UUID) (*types.UploadSession, error) {
	var session types.UploadSession
	query := s.DB.WithContext(ctx).Where("id = ?", sessionID)
	if s.Config.UserRestricted && userID != uuid.Nil {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errSessionNotFound()
		}
		return nil, errStorageFailure(err)
	}
	return &session, nil
}

// validateActive rejects operations on expired or already-completed sessions
func (s *Service) validateActive(session *types.UploadSession, now time.Time) error {
	if session.Expired(s.Config.ExpirationWindow, now) {
		return errSessionExpired()
	}
	if session.Status == types.StatusComplete {
		return errSessionComplete()
	}
	return nil
}

func (s *Service) tempStoragePath(sessionID uuid.UUID) string {
	return path.Join(s.Config.PathPrefix, sessionID.String()+s.Config.TempSuffix)
}

// finalStoragePath swaps the temporary suffix for the extension of the
// original filename
func (s *Service) finalStoragePath(session *types.UploadSession) string {
	base := strings.TrimSuffix(session.StoragePath, s.Config.TempSuffix)
	return base + filepath.Ext(session.Filename)
}
