package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/lgulliver/chunkd/pkg/types"
)

// appendChunk merges chunk bytes into the session blob and advances the
// recorded offset. The caller must hold the session lock and must already
// have verified range continuity.
//
// Backends like S3 cannot append in place, so the current blob is read in
// full, the chunk appended, and the blob rewritten through the storage
// adapter's atomic Store. That is O(total size) per chunk, which is
// acceptable for bounded chunked uploads.
func (s *Service) appendChunk(ctx context.Context, session *types.UploadSession, chunk []byte) error {
	newOffset := session.Offset + int64(len(chunk))

	if session.Offset == 0 {
		if _, err := s.Storage.Store(ctx, session.StoragePath, bytes.NewReader(chunk)); err != nil {
			return errStorageFailure(err)
		}
	} else {
		reader, err := s.Storage.Retrieve(ctx, session.StoragePath)
		if err != nil {
			return errStorageFailure(err)
		}
		existing, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			return errStorageFailure(err)
		}

		// The recorded offset must reflect the bytes actually persisted.
		// A mismatch means the blob and the record have diverged.
		if int64(len(existing)) != session.Offset {
			return errStorageFailure(fmt.Errorf("blob length %d does not match recorded offset %d", len(existing), session.Offset))
		}

		combined := append(existing, chunk...)
		if _, err := s.Storage.Store(ctx, session.StoragePath, bytes.NewReader(combined)); err != nil {
			return errStorageFailure(err)
		}
	}

	// The offset advances only after the blob write is durable, and only if
	// no concurrent writer got there first. The same update clears the
	// cached checksum: this is the one place the offset changes.
	result := s.DB.WithContext(ctx).Model(&types.UploadSession{}).
		Where("id = ? AND byte_offset = ? AND status = ?", session.ID, session.Offset, types.StatusUploading).
		Updates(map[string]interface{}{
			"byte_offset":     newOffset,
			"cached_checksum": "",
		})
	if result.Error != nil {
		return errStorageFailure(result.Error)
	}
	if result.RowsAffected == 0 {
		return errConcurrentUpdate()
	}

	session.Offset = newOffset
	session.CachedChecksum = ""

	log.Debug().
		Str("session_id", session.ID.String()).
		Int64("chunk_size", int64(len(chunk))).
		Int64("offset", newOffset).
		Msg("appended chunk to upload session")

	return nil
}
