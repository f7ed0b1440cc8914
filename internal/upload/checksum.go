package upload

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/lgulliver/chunkd/pkg/types"
)

// newHasher returns a hash for the configured algorithm. md5 is the default:
// the checksum guards against transfer corruption, not adversaries.
func newHasher(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm: %s", algorithm)
	}
}

// ComputeChecksum returns the content hash of the session blob. The value is
// served from the session's cache slot when present; otherwise the blob is
// re-read in full from storage, never from a write-side buffer, so the
// result always reflects what is actually persisted.
func (s *Service) ComputeChecksum(ctx context.Context, session *types.UploadSession) (string, error) {
	if session.CachedChecksum != "" {
		return session.CachedChecksum, nil
	}

	hasher, err := newHasher(s.Config.ChecksumAlgorithm)
	if err != nil {
		return "", err
	}

	reader, err := s.Storage.Retrieve(ctx, session.StoragePath)
	if err != nil {
		return "", errStorageFailure(err)
	}
	defer reader.Close()

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", errStorageFailure(err)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))

	// Fill the cache slot. Best effort: correctness never depends on the
	// cache, only on the invalidation done by the append path.
	err = s.DB.WithContext(ctx).Model(&types.UploadSession{}).
		Where("id = ?", session.ID).
		Update("cached_checksum", sum).Error
	if err != nil {
		log.Warn().Err(err).
			Str("session_id", session.ID.String()).
			Msg("failed to persist cached checksum")
	}
	session.CachedChecksum = sum

	return sum, nil
}
