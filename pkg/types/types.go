package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UploadStatus is the lifecycle state of an upload session
type UploadStatus int

const (
	// StatusUploading means the session is still accepting chunks
	StatusUploading UploadStatus = 1
	// StatusComplete means the session has been finalized; terminal
	StatusComplete UploadStatus = 2
)

// String returns the wire representation of the status
func (s UploadStatus) String() string {
	switch s {
	case StatusUploading:
		return "uploading"
	case StatusComplete:
		return "complete"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// UploadSession tracks one resumable chunked upload. Offset always equals
// the byte length of the blob at StoragePath after a successful append.
type UploadSession struct {
	ID       uuid.UUID `json:"id" gorm:"primaryKey"`
	UserID   uuid.UUID `json:"user_id" gorm:"index"` // uuid.Nil for anonymous
	Filename string    `json:"filename" gorm:"not null"`
	// StoragePath locates the blob backing this session. It carries the
	// temporary suffix until finalize renames it to the real extension.
	StoragePath string       `json:"-" gorm:"not null"`
	// Offset is stored as byte_offset; "offset" is reserved in Postgres
	Offset      int64        `json:"offset" gorm:"column:byte_offset;default:0"`
	Status      UploadStatus `json:"status" gorm:"default:1"`
	// CachedChecksum is the memoized content hash of the blob. It is cleared
	// by the same update that advances Offset and filled back in by the
	// checksum verifier, so a stale value is never observable.
	CachedChecksum string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"-"`
	CompletedAt    *time.Time `json:"completed_at"`
}

// BeforeCreate generates a UUID for the session ID
func (u *UploadSession) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// ExpiresAt returns the instant after which the session is terminal
func (u *UploadSession) ExpiresAt(window time.Duration) time.Time {
	return u.CreatedAt.Add(window)
}

// Expired reports whether the session has passed its expiration window
func (u *UploadSession) Expired(window time.Duration, now time.Time) bool {
	return !u.ExpiresAt(window).After(now)
}

// UploadSessionResponse is the client-facing session representation.
// Status and CompletedAt are server-controlled, never client-writable.
type UploadSessionResponse struct {
	ID          uuid.UUID  `json:"id"`
	URL         string     `json:"url"`
	Filename    string     `json:"filename"`
	Offset      int64      `json:"offset"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// APIResponse is the generic envelope for non-session payloads
type APIResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// UploadCompletedEvent is published when a session is finalized
type UploadCompletedEvent struct {
	SessionID   uuid.UUID `json:"session_id"`
	Filename    string    `json:"filename"`
	StoragePath string    `json:"storage_path"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	CompletedAt time.Time `json:"completed_at"`
}
