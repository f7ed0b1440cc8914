package main

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lgulliver/chunkd/cmd/api-server/middleware"
	"github.com/lgulliver/chunkd/internal/upload"
	"github.com/lgulliver/chunkd/pkg/types"
)

// writeUploadError translates protocol errors into structured JSON
// responses. OffsetMismatch responses carry the authoritative offset so the
// client can resync without another GET.
func writeUploadError(c *gin.Context, err error) {
	if ue, ok := upload.AsError(err); ok {
		body := gin.H{"error": ue.Detail, "code": ue.Code}
		if ue.Offset != nil {
			body["offset"] = *ue.Offset
		}
		c.JSON(ue.Status, body)
		return
	}

	c.JSON(http.StatusInternalServerError, types.APIResponse{
		Success: false,
		Error:   "internal server error",
	})
}

// sessionIDParam parses the optional :id path parameter. A malformed id is
// indistinguishable from an absent session.
func sessionIDParam(c *gin.Context) (*uuid.UUID, bool) {
	raw := c.Param("id")
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "upload session not found",
			"code":  upload.CodeSessionNotFound,
		})
		return nil, false
	}
	return &id, true
}

// readChunk pulls the chunk bytes and original filename out of the multipart
// form field named by configuration
func readChunk(c *gin.Context, fieldName string) ([]byte, string, bool) {
	fileHeader, err := c.FormFile(fieldName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "no chunk file was submitted",
			"code":  upload.CodeMissingField,
		})
		return nil, "", false
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "failed to read submitted chunk",
			"code":  upload.CodeMissingField,
		})
		return nil, "", false
	}
	defer file.Close()

	chunk, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "failed to read submitted chunk",
			"code":  upload.CodeMissingField,
		})
		return nil, "", false
	}

	return chunk, fileHeader.Filename, true
}

// handlePutChunk submits one chunk, creating a session when no id is given
func handlePutChunk(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := sessionIDParam(c)
		if !ok {
			return
		}

		chunk, filename, ok := readChunk(c, uploadService.Config.FieldName)
		if !ok {
			return
		}

		session, err := uploadService.PutChunk(c.Request.Context(), &upload.ChunkRequest{
			SessionID:    sessionID,
			UserID:       middleware.GetUserID(c),
			Filename:     filename,
			Chunk:        chunk,
			ContentRange: c.GetHeader("Content-Range"),
		})
		if err != nil {
			writeUploadError(c, err)
			return
		}

		c.JSON(http.StatusOK, uploadService.Response(session))
	}
}

// handleComplete finalizes a session. Without an id the body is treated as a
// whole-file single-shot upload that is then finalized in the same request.
func handleComplete(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := sessionIDParam(c)
		if !ok {
			return
		}

		userID := middleware.GetUserID(c)

		var id uuid.UUID
		if sessionID != nil {
			id = *sessionID
		} else {
			chunk, filename, ok := readChunk(c, uploadService.Config.FieldName)
			if !ok {
				return
			}

			session, err := uploadService.PutChunk(c.Request.Context(), &upload.ChunkRequest{
				UserID:   userID,
				Filename: filename,
				Chunk:    chunk,
				Whole:    true,
			})
			if err != nil {
				writeUploadError(c, err)
				return
			}
			id = session.ID
		}

		checksum := c.PostForm(uploadService.Config.ChecksumAlgorithm)

		session, err := uploadService.Complete(c.Request.Context(), userID, id, checksum)
		if err != nil {
			writeUploadError(c, err)
			return
		}

		c.JSON(http.StatusOK, uploadService.Response(session))
	}
}

// handleGet retrieves one session or lists all sessions visible to the
// requester
func handleGet(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := sessionIDParam(c)
		if !ok {
			return
		}

		userID := middleware.GetUserID(c)

		if sessionID != nil {
			session, err := uploadService.Get(c.Request.Context(), userID, *sessionID)
			if err != nil {
				writeUploadError(c, err)
				return
			}
			c.JSON(http.StatusOK, uploadService.Response(session))
			return
		}

		sessions, err := uploadService.List(c.Request.Context(), userID)
		if err != nil {
			writeUploadError(c, err)
			return
		}

		responses := make([]*types.UploadSessionResponse, 0, len(sessions))
		for i := range sessions {
			responses = append(responses, uploadService.Response(&sessions[i]))
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleDelete removes a session and its blob; ?keep_file=true leaves the
// blob in place
func handleDelete(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := sessionIDParam(c)
		if !ok {
			return
		}
		if sessionID == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "upload session not found",
				"code":  upload.CodeSessionNotFound,
			})
			return
		}

		deleteBlob := c.Query("keep_file") != "true"

		err := uploadService.Delete(c.Request.Context(), middleware.GetUserID(c), *sessionID, deleteBlob)
		if err != nil {
			writeUploadError(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}
