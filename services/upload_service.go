package services

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"

	"github.com/MerlinStacks/productdesigner-sub001/internal/storage"
)

// UploadService moves customer images into blob storage. Every upload
// is bracketed by the session's in-flight counter so submission stays
// gated until the outcome is known.
type UploadService struct {
	blobs    storage.BlobStorage
	sessions *SubmissionService
}

func NewUploadService(blobs storage.BlobStorage, sessions *SubmissionService) *UploadService {
	return &UploadService{blobs: blobs, sessions: sessions}
}

// UploadImage stores the image and records its URL on the session's
// field at index. On storage failure the gate is released without a
// value, so the session can still validate and submit.
func (u *UploadService) UploadImage(ctx context.Context, sessionID string, index int, filename, contentType string, r io.Reader) (string, error) {
	if err := u.sessions.BeginUpload(sessionID); err != nil {
		return "", err
	}

	name := fmt.Sprintf("uploads/%s/%s%s", sessionID, uuid.NewString(), path.Ext(filename))
	url, err := u.blobs.Put(ctx, name, contentType, r)
	if err != nil {
		if failErr := u.sessions.FailUpload(sessionID); failErr != nil {
			return "", failErr
		}
		return "", fmt.Errorf("failed to store upload for session %s: %w", sessionID, err)
	}

	if err := u.sessions.CompleteUpload(sessionID, index, url); err != nil {
		return "", err
	}
	return url, nil
}
