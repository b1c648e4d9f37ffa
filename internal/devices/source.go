// Package devices fetches the device inventory from the device API and keeps
// a local snapshot of it.
//
// The snapshot has no expiry: while the cache file exists it is served as is,
// and only its absence triggers a remote fetch. Callers that need fresh data
// delete it with Invalidate.
package devices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"device-notifier/internal/config"
	"device-notifier/internal/logging"
	"device-notifier/internal/models"
	"device-notifier/internal/utils"
)

const maxErrorBody = 512

// Source loads device records from the cache file or the device API.
type Source struct {
	url       string
	cachePath string
	client    *http.Client
	logger    *logging.Logger
	attempts  int
	delay     time.Duration
}

// NewSource creates a Source. A nil client uses a client with a 60s timeout.
func NewSource(url, cachePath string, client *http.Client, logger *logging.Logger, attempts int) *Source {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Source{
		url:       url,
		cachePath: cachePath,
		client:    client,
		logger:    logger,
		attempts:  attempts,
		delay:     2 * time.Second,
	}
}

// Fetch returns the device records, reading the cache file when present and
// calling the device API otherwise. A successful remote fetch is persisted to
// the cache file byte for byte.
func (s *Source) Fetch(ctx context.Context, creds config.Credentials) ([]models.DeviceRecord, error) {
	raw, err := os.ReadFile(s.cachePath)
	switch {
	case err == nil:
		s.logger.Infof("Using cached device snapshot %s", s.cachePath)
		return decode(raw, s.cachePath)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read device cache %s: %w", s.cachePath, err)
	}

	err = utils.Retry(ctx, s.logger, s.attempts, s.delay, isTransient, func() error {
		var fetchErr error
		raw, fetchErr = s.fetchRemote(ctx, creds)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	records, err := decode(raw, s.url)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(s.cachePath, raw); err != nil {
		return nil, err
	}
	s.logger.Infof("Fetched %d devices from %s", len(records), s.url)
	return records, nil
}

// Invalidate deletes the cache file. A missing file is not an error.
func (s *Source) Invalidate() error {
	if err := os.Remove(s.cachePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete device cache %s: %w", s.cachePath, err)
	}
	return nil
}

func (s *Source) fetchRemote(ctx context.Context, creds config.Credentials) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create device API request: %w", err)
	}
	req.SetBasicAuth(creds.Username, creds.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: s.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: s.url, Err: err}
	}
	return raw, nil
}

func isTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func decode(raw []byte, origin string) ([]models.DeviceRecord, error) {
	var records []models.DeviceRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to decode devices from %s: %w", origin, err)
	}
	return records, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".devices-*.json")
	if err != nil {
		return fmt.Errorf("failed to create device cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write device cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write device cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write device cache %s: %w", path, err)
	}
	return nil
}
