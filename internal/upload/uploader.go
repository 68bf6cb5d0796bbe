// Package upload pushes audio captures to durable object storage.
package upload

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"voicerelay/internal/apperr"
)

// Uploader stores audio bytes durably and returns their public URL.
type Uploader interface {
	Upload(ctx context.Context, path, audioHash string) (string, error)
}

// HTTPUploader PUTs objects to a storage endpoint keyed by audio hash.
type HTTPUploader struct {
	baseURL string
	client  *http.Client
}

// New creates an uploader for the given storage base URL.
func New(baseURL string) *HTTPUploader {
	return &HTTPUploader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload PUTs the file and returns the object URL.
func (u *HTTPUploader) Upload(ctx context.Context, path, audioHash string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", apperr.Wrapf(err, apperr.CodeUploadFailed, "open %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", apperr.Wrapf(err, apperr.CodeUploadFailed, "stat %s", path)
	}

	objectURL := fmt.Sprintf("%s/%s.wav", u.baseURL, audioHash)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, objectURL, f)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeUploadFailed, "build upload request")
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := u.client.Do(req)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeUploadFailed, "put object")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", apperr.Newf(apperr.CodeUploadFailed, "storage status %d", resp.StatusCode)
	}
	return objectURL, nil
}
