package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

const (
	// Generous per-attempt timeout; generated clips can run tens of MB
	requestTimeout = 180 * time.Second

	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

// Store is the Supabase Storage client behind the artifact-handle opaque
// reference: a handle is simply the object path inside the bucket. It also
// owns the release contract: regeneration asks it to delete the object
// bound to a stale handle.
type Store struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client
}

func New(url, serviceKey, bucket string) *Store {
	return &Store{
		url:        url,
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Upload writes an object with retries and exponential backoff. Uses PUT
// with x-upsert so a regenerated scene can overwrite its slot.
func (s *Store) Upload(ctx context.Context, objectPath string, data []byte, contentType string) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, objectPath)

	return s.withRetries(ctx, "upload "+objectPath, func(attemptCtx context.Context) error {
		req, err := http.NewRequestWithContext(attemptCtx, "PUT", url, bytes.NewReader(data))
		if err != nil {
			return permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Content-Length", fmt.Sprintf("%d", len(data)))
		req.Header.Set("x-upsert", "true")

		resp, err := s.client.Do(req)
		if err != nil {
			return classifyNetErr(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return nil
		}
		return classifyStatus(resp.StatusCode, body)
	})
}

// Download reads an object with retries.
func (s *Store) Download(ctx context.Context, objectPath string) ([]byte, error) {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, objectPath)

	var data []byte
	err := s.withRetries(ctx, "download "+objectPath, func(attemptCtx context.Context) error {
		req, err := http.NewRequestWithContext(attemptCtx, "GET", url, nil)
		if err != nil {
			return permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return classifyNetErr(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return classifyStatus(resp.StatusCode, body)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return retryable(fmt.Errorf("failed to read download body: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Release deletes the object bound to an artifact handle. A 404 counts as
// released; the handle may already be gone after a previous attempt.
func (s *Store) Release(ctx context.Context, handle string) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, handle)

	req, err := http.NewRequestWithContext(ctx, "DELETE", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("delete failed with status %d: %s", resp.StatusCode, string(body))
}

// GetPublicURL returns the public URL for an object.
func (s *Store) GetPublicURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.Bucket, objectPath)
}

// GetSignedURL creates a signed URL for temporary access.
func (s *Store) GetSignedURL(ctx context.Context, objectPath string, expiresIn int) (string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.url, s.Bucket, objectPath)

	body := fmt.Sprintf(`{"expiresIn": %d}`, expiresIn)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBufferString(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get signed URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse signed URL response: %w", err)
	}

	return s.url + result.SignedURL, nil
}

// --- retry plumbing ---

type storeErr struct {
	err       error
	retryable bool
}

func (e *storeErr) Error() string { return e.err.Error() }
func (e *storeErr) Unwrap() error { return e.err }

func retryable(err error) error { return &storeErr{err: err, retryable: true} }
func permanent(err error) error { return &storeErr{err: err, retryable: false} }

// withRetries runs fn up to maxRetries+1 times with exponential backoff and
// jitter, retrying only errors classified as transient.
func (s *Store) withRetries(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			log.Printf("[Storage] Retry %d/%d for %s (waiting %v)...", attempt, maxRetries, label, delay)

			select {
			case <-ctx.Done():
				return fmt.Errorf("%s cancelled: %w", label, ctx.Err())
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if attempt > 0 {
				log.Printf("[Storage] %s succeeded on attempt %d", label, attempt+1)
			}
			return nil
		}

		lastErr = err
		var se *storeErr
		if !errors.As(err, &se) || !se.retryable {
			return err
		}
		log.Printf("[Storage] Attempt %d for %s failed (retryable): %v", attempt+1, label, err)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", label, maxRetries+1, lastErr)
}

// retryDelay calculates exponential backoff with jitter: base * 2^attempt + random jitter
func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	// Add 0–25% jitter to avoid thundering herd
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

// classifyNetErr decides whether a network-level error is worth retrying.
func classifyNetErr(err error) error {
	errStr := err.Error()
	transient := strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
	if transient {
		return retryable(err)
	}
	return permanent(err)
}

// classifyStatus decides whether an HTTP status is worth retrying.
func classifyStatus(status int, body []byte) error {
	err := fmt.Errorf("request failed with status %d: %s", status, truncate(string(body), 200))
	switch status {
	case http.StatusTooManyRequests, http.StatusRequestTimeout,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return retryable(err)
	}
	return permanent(err)
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
