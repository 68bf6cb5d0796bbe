package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voicerelay/internal/apperr"
)

// JobStatus is the remote transcription job lifecycle.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// JobClient is the external transcription job API: submit a job for an
// uploaded audio URL, poll its status, fetch the finished transcript.
type JobClient interface {
	Submit(ctx context.Context, audioURL string) (jobID string, err error)
	Poll(ctx context.Context, jobID string) (JobStatus, error)
	Fetch(ctx context.Context, jobID string) (string, error)
}

// HTTPJobClient talks to the transcription service over HTTP.
type HTTPJobClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPJobClient creates a client for the given base URL.
func NewHTTPJobClient(baseURL string) *HTTPJobClient {
	return &HTTPJobClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 12 * time.Second},
	}
}

type submitResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type statusResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type resultResponse struct {
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
	} `json:"results"`
}

// Submit starts a transcription job for an uploaded audio URL.
func (c *HTTPJobClient) Submit(ctx context.Context, audioURL string) (string, error) {
	body := strings.NewReader(url.Values{"audioUrl": {audioURL}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", body)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeJobSubmitFailed, "build submit request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp submitResponse
	if err := c.do(req, &resp, apperr.CodeJobSubmitFailed); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", apperr.Newf(apperr.CodeJobSubmitFailed, "submit rejected: %s", resp.Reason)
	}
	return resp.JobID, nil
}

// Poll reports the current status of a job.
func (c *HTTPJobClient) Poll(ctx context.Context, jobID string) (JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/jobs/%s", c.baseURL, url.PathEscape(jobID)), nil)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeJobPollFailed, "build poll request")
	}

	var resp statusResponse
	if err := c.do(req, &resp, apperr.CodeJobPollFailed); err != nil {
		return "", err
	}

	switch JobStatus(resp.Status) {
	case JobStatusQueued, JobStatusProcessing, JobStatusDone, JobStatusFailed:
		return JobStatus(resp.Status), nil
	default:
		return "", apperr.Newf(apperr.CodeJobPollFailed, "unknown job status %q", resp.Status)
	}
}

// Fetch downloads the transcript of a finished job. The provider payload
// nests transcripts under results; an empty list maps to an empty string.
func (c *HTTPJobClient) Fetch(ctx context.Context, jobID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/jobs/%s/result", c.baseURL, url.PathEscape(jobID)), nil)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeJobPollFailed, "build fetch request")
	}

	var resp resultResponse
	if err := c.do(req, &resp, apperr.CodeJobPollFailed); err != nil {
		return "", err
	}
	if len(resp.Results.Transcripts) == 0 {
		return "", nil
	}
	return resp.Results.Transcripts[0].Transcript, nil
}

func (c *HTTPJobClient) do(req *http.Request, out any, code apperr.Code) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeUnavailable, "transcription api")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Wrap(err, code, "read response")
	}
	if resp.StatusCode >= 500 {
		return apperr.Newf(apperr.CodeUnavailable, "transcription api status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return apperr.Newf(code, "transcription api status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(err, code, "decode response")
	}
	return nil
}
