package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// ModelStore downloads the model artifact once and hands out its local
// path. Downloads go to a .part file which is renamed only after the size
// matches the remote-reported length, so a readable final file is always a
// complete one. Repeated calls after success return immediately.
type ModelStore struct {
	URL       string
	Path      string
	AuthToken string

	mu     sync.Mutex
	client *http.Client
	log    logrus.FieldLogger
}

// NewModelStore for the given artifact URL and local path
func NewModelStore(url, path, authToken string, log logrus.FieldLogger) *ModelStore {
	return &ModelStore{
		URL:       url,
		Path:      path,
		AuthToken: authToken,
		client:    http.DefaultClient,
		log:       log,
	}
}

// ModelFile returns the path to a verified local model artifact, downloading
// it first if needed. onProgress receives values in [0, 1].
func (m *ModelStore) ModelFile(ctx context.Context, onProgress func(float64)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if onProgress == nil {
		onProgress = func(float64) {}
	}

	expected := m.remoteSize(ctx)

	if info, err := os.Stat(m.Path); err == nil {
		if expected <= 0 || info.Size() == expected {
			onProgress(1)
			return m.Path, nil
		}

		// size changed upstream, the local copy is stale
		if err := os.Remove(m.Path); err != nil {
			return "", fmt.Errorf("failed to remove stale model file: %w", err)
		}
	}

	part := m.Path + ".part"
	_ = os.Remove(part)

	if err := os.MkdirAll(filepath.Dir(m.Path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	m.log.WithFields(logrus.Fields{
		"url":   m.URL,
		"bytes": expected,
	}).Info("downloading model artifact")

	if err := m.download(ctx, part, expected, onProgress); err != nil {
		_ = os.Remove(part)
		return "", err
	}

	if expected > 0 {
		info, err := os.Stat(part)
		if err != nil {
			return "", fmt.Errorf("failed to stat downloaded model: %w", err)
		}

		if info.Size() != expected {
			_ = os.Remove(part)
			return "", fmt.Errorf(
				"model size mismatch: downloaded %d bytes, expected %d bytes",
				info.Size(),
				expected,
			)
		}
	}

	if err := os.Rename(part, m.Path); err != nil {
		return "", fmt.Errorf("failed to rename downloaded model into place: %w", err)
	}

	onProgress(1)

	return m.Path, nil
}

// remoteSize via a HEAD request, -1 when unavailable
func (m *ModelStore) remoteSize(ctx context.Context) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.URL, nil)
	if err != nil {
		return -1
	}

	m.authorize(req)

	res, err := m.client.Do(req)
	if err != nil {
		m.log.WithError(err).Warn("model size probe failed")
		return -1
	}

	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		m.log.WithField("status", res.StatusCode).Warn("model size probe failed")
		return -1
	}

	return res.ContentLength
}

func (m *ModelStore) download(ctx context.Context, dest string, total int64, onProgress func(float64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create model download request: %w", err)
	}

	m.authorize(req)

	res, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download model: %w", err)
	}

	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("model download returned HTTP %d", res.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create model temp file: %w", err)
	}

	defer out.Close()

	buf := make([]byte, 32*1024)
	var done int64
	for {
		n, err := res.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("failed to write model temp file: %w", werr)
			}

			done += int64(n)
			if total > 0 {
				pct := float64(done) / float64(total)
				if pct > 0.99 {
					pct = 0.99
				}
				onProgress(pct)
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read model download: %w", err)
		}
	}

	return nil
}

func (m *ModelStore) authorize(req *http.Request) {
	if m.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+m.AuthToken)
	}
}
