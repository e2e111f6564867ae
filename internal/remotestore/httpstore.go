// Package remotestore provides vaultsync.RemoteStore implementations: a
// generic authenticated JSON/REST backend and an AWS S3 backend.
package remotestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/vaultsync/vaultsync/internal/vaultsync"
)

// Retry policy mirrors the teacher client's: base 1s, factor 2x, max 30s,
// +/-25% jitter, 5 retries (6 attempts in all).
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "vaultsync/1.0"
)

// HTTPStore is a generic JSON/REST vaultsync.RemoteStore. It expects an API
// shaped as:
//
//	GET    /vaults/{vaultID}/files
//	POST   /files/{path}   (multipart-free raw body upload)
//	GET    /files/{id}/content
//	DELETE /files/{id}
//	GET    /changes?pageToken=...
//	GET    /changes/startPageToken
//	GET    /files/{id}
type HTTPStore struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	logger     *slog.Logger
	sleepFunc  func(ctx context.Context, d time.Duration) error
}

// NewHTTPStore creates an HTTPStore against baseURL, authenticating every
// request with a bearer token drawn from tokens.
func NewHTTPStore(baseURL string, httpClient *http.Client, tokens oauth2.TokenSource, logger *slog.Logger) *HTTPStore {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &HTTPStore{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
		sleepFunc:  sleepCtx,
	}
}

type listResponse struct {
	Files []wireFile `json:"files"`
}

type wireFile struct {
	ID             string            `json:"id"`
	Path           string            `json:"path"`
	MimeType       string            `json:"mimeType"`
	Size           int64             `json:"size"`
	ModifiedTime   time.Time         `json:"modifiedTime"`
	HeadRevisionID string            `json:"headRevisionId"`
	AppProperties  map[string]string `json:"appProperties"`
}

func (f wireFile) toRemoteFile() vaultsync.RemoteFile {
	return vaultsync.RemoteFile{
		ID:             f.ID,
		Path:           f.Path,
		MimeType:       f.MimeType,
		Size:           f.Size,
		ModifiedTime:   f.ModifiedTime,
		HeadRevisionID: f.HeadRevisionID,
		AppProperties:  f.AppProperties,
	}
}

// ListFiles returns every object tracked for vaultID.
func (s *HTTPStore) ListFiles(ctx context.Context, vaultID string) ([]vaultsync.RemoteFile, error) {
	resp, err := s.doJSON(ctx, http.MethodGet, "/vaults/"+url.PathEscape(vaultID)+"/files")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out listResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode list response: %v", vaultsync.ErrDataIntegrity, err)
	}

	files := make([]vaultsync.RemoteFile, 0, len(out.Files))
	for _, f := range out.Files {
		files = append(files, f.toRemoteFile())
	}

	return files, nil
}

type uploadResponse struct {
	ID             string `json:"id"`
	HeadRevisionID string `json:"headRevisionId"`
}

// UploadFile uploads data as the content of path, tagged with appProps.
func (s *HTTPStore) UploadFile(ctx context.Context, path string, data []byte, mimeType string, appProps map[string]string) (vaultsync.UploadResult, error) {
	query := url.Values{}
	for k, v := range appProps {
		query.Set("prop."+k, v)
	}

	reqPath := "/files/" + url.PathEscape(path)
	if encoded := query.Encode(); encoded != "" {
		reqPath += "?" + encoded
	}

	resp, err := s.doRetry(ctx, http.MethodPost, reqPath, bytes.NewReader(data), mimeType)
	if err != nil {
		return vaultsync.UploadResult{}, err
	}
	defer resp.Body.Close()

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return vaultsync.UploadResult{}, fmt.Errorf("%w: decode upload response: %v", vaultsync.ErrDataIntegrity, err)
	}

	return vaultsync.UploadResult{ID: out.ID, HeadRevisionID: out.HeadRevisionID}, nil
}

// DownloadFile returns id's current content.
func (s *HTTPStore) DownloadFile(ctx context.Context, id string) ([]byte, error) {
	resp, err := s.doRetry(ctx, http.MethodGet, "/files/"+url.PathEscape(id)+"/content", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vaultsync: read download body: %w", err)
	}

	return data, nil
}

// DeleteFile permanently removes id from the remote store.
func (s *HTTPStore) DeleteFile(ctx context.Context, id string) error {
	resp, err := s.doRetry(ctx, http.MethodDelete, "/files/"+url.PathEscape(id), nil, "")
	if err != nil {
		return err
	}

	return resp.Body.Close()
}

type changesResponse struct {
	Changes       []wireChange `json:"changes"`
	NextPageToken string       `json:"nextPageToken"`
}

type wireChange struct {
	FileID  string    `json:"fileId"`
	Removed bool      `json:"removed"`
	File    *wireFile `json:"file,omitempty"`
}

// GetChanges returns the page of changes following pageToken.
func (s *HTTPStore) GetChanges(ctx context.Context, pageToken string) ([]vaultsync.RemoteChange, string, error) {
	resp, err := s.doJSON(ctx, http.MethodGet, "/changes?pageToken="+url.QueryEscape(pageToken))
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var out changesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", fmt.Errorf("%w: decode changes response: %v", vaultsync.ErrDataIntegrity, err)
	}

	changes := make([]vaultsync.RemoteChange, 0, len(out.Changes))
	for _, c := range out.Changes {
		rc := vaultsync.RemoteChange{FileID: c.FileID, Removed: c.Removed}
		if c.File != nil {
			rf := c.File.toRemoteFile()
			rc.File = &rf
		}

		changes = append(changes, rc)
	}

	return changes, out.NextPageToken, nil
}

type startPageTokenResponse struct {
	StartPageToken string `json:"startPageToken"`
}

// GetStartPageToken returns a fresh cursor for GetChanges.
func (s *HTTPStore) GetStartPageToken(ctx context.Context) (string, error) {
	resp, err := s.doJSON(ctx, http.MethodGet, "/changes/startPageToken")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out startPageTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode start page token: %v", vaultsync.ErrDataIntegrity, err)
	}

	return out.StartPageToken, nil
}

// GetFileMetadata fetches a single object's current metadata.
func (s *HTTPStore) GetFileMetadata(ctx context.Context, id string) (vaultsync.RemoteFile, error) {
	mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := s.doJSON(mctx, http.MethodGet, "/files/"+url.PathEscape(id))
	if err != nil {
		return vaultsync.RemoteFile{}, err
	}
	defer resp.Body.Close()

	var out wireFile
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return vaultsync.RemoteFile{}, fmt.Errorf("%w: decode file metadata: %v", vaultsync.ErrDataIntegrity, err)
	}

	return out.toRemoteFile(), nil
}

// doJSON is doRetry with an implicit application/json content type for
// request bodies.
func (s *HTTPStore) doJSON(ctx context.Context, method, path string) (*http.Response, error) {
	return s.doRetry(ctx, method, path, nil, "application/json")
}

// doRetry executes an authenticated request with bounded exponential
// backoff retry on transient failures, classifying 401/403 as
// ErrAuthFailed and retry exhaustion / repeated 5xx as ErrTransient.
func (s *HTTPStore) doRetry(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	var bodyBytes []byte

	if body != nil {
		var err error

		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("vaultsync: read request body: %w", err)
		}
	}

	var attempt int

	for {
		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}

		resp, err := s.doOnce(ctx, method, path, reqBody, contentType)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", vaultsync.ErrTransient, ctx.Err())
			}

			if attempt >= maxRetries {
				return nil, fmt.Errorf("%w: %s %s: %v", vaultsync.ErrTransient, method, path, err)
			}

			if sleepErr := s.sleepFunc(ctx, s.backoff(attempt)); sleepErr != nil {
				return nil, fmt.Errorf("%w: %v", vaultsync.ErrTransient, sleepErr)
			}

			attempt++

			continue
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: status %d", vaultsync.ErrAuthFailed, resp.StatusCode)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			wait := s.retryBackoff(resp, attempt)
			resp.Body.Close()

			if sleepErr := s.sleepFunc(ctx, wait); sleepErr != nil {
				return nil, fmt.Errorf("%w: %v", vaultsync.ErrTransient, sleepErr)
			}

			attempt++

			continue
		}

		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		return nil, fmt.Errorf("%w: %s %s returned %d: %s", vaultsync.ErrTransient, method, path, resp.StatusCode, errBody)
	}
}

func (s *HTTPStore) doOnce(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("vaultsync: build request: %w", err)
	}

	tok, err := s.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: obtain token: %v", vaultsync.ErrAuthFailed, err)
	}

	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("User-Agent", userAgent)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Debug("http request failed", "method", method, "path", path, "error", err)
		return nil, err
	}

	return resp, nil
}

func (s *HTTPStore) backoff(attempt int) time.Duration {
	d := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if d > float64(maxBackoff) {
		d = float64(maxBackoff)
	}

	jitter := d * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand

	return time.Duration(d + jitter)
}

func (s *HTTPStore) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}

	return s.backoff(attempt)
}

func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
