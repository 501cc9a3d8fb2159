// Package filesink copies remote task outputs into a local directory.
package filesink

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Sink errors
var (
	// ErrUnsupportedScheme is returned for URLs that are neither http(s) nor data:.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")

	// ErrMalformedDataURI is returned when a data: URI cannot be decoded.
	ErrMalformedDataURI = errors.New("malformed data uri")

	// ErrNoOutputDir is returned when no output directory is configured.
	ErrNoOutputDir = errors.New("output directory is not configured")
)

// DefaultExtension is used when the URL reveals nothing about the content.
const DefaultExtension = ".bin"

var extPattern = regexp.MustCompile(`\.([a-zA-Z0-9]+)(?:\?|#|$)`)

var knownExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true, "bmp": true, "tiff": true,
	"mp4": true, "webm": true, "mov": true, "avi": true, "mkv": true,
	"mp3": true, "wav": true, "ogg": true, "flac": true, "m4a": true,
}

var unsafeNameChars = regexp.MustCompile(`[/\\:*?"<>|\x00-\x1f]+`)

// Sink writes files into the directory returned by dir.
type Sink struct {
	client *http.Client
	dir    func() string
	logger *slog.Logger
}

// New creates a Sink. dir is consulted on every save so directory changes
// apply immediately. A nil client gets a 2 minute timeout.
func New(client *http.Client, dir func() string, logger *slog.Logger) *Sink {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Sink{
		client: client,
		dir:    dir,
		logger: logger.With("component", "filesink"),
	}
}

// Save stores the content behind sourceURL under name and returns the local
// path. A file that already exists under that name is returned as is.
func (s *Sink) Save(ctx context.Context, sourceURL, name string) (string, error) {
	dir := s.dir()
	if dir == "" {
		return "", ErrNoOutputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	target := filepath.Join(dir, sanitize(name))
	if _, err := os.Stat(target); err == nil {
		s.logger.Debug("output already saved", "path", target)
		return target, nil
	}

	var src io.ReadCloser
	switch {
	case strings.HasPrefix(sourceURL, "data:"):
		data, _, err := decodeDataURI(sourceURL)
		if err != nil {
			return "", err
		}
		src = io.NopCloser(bytes.NewReader(data))
	case strings.HasPrefix(sourceURL, "http://"), strings.HasPrefix(sourceURL, "https://"):
		body, err := s.download(ctx, sourceURL)
		if err != nil {
			return "", err
		}
		src = body
	default:
		return "", ErrUnsupportedScheme
	}
	defer func() { _ = src.Close() }()

	if err := writeAtomic(dir, target, src); err != nil {
		return "", err
	}

	s.logger.Info("output saved", "path", target)
	return target, nil
}

func (s *Sink) download(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download returned HTTP %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func writeAtomic(dir, target string, src io.Reader) error {
	tmp, err := os.CreateTemp(dir, ".rhq-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close output: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

// FileName builds the auto-save name of the idx-th output of a task.
func FileName(appName string, taskID uuid.UUID, idx int, sourceURL string) string {
	base := strings.TrimSpace(appName)
	if base == "" {
		base = "output"
	}
	return fmt.Sprintf("%s_%s_%d%s", base, taskID.String()[:8], idx+1, ExtensionFor(sourceURL))
}

// ExtensionFor guesses a file extension, including the dot, from a URL.
func ExtensionFor(sourceURL string) string {
	if strings.HasPrefix(sourceURL, "data:") {
		data, mediaType, err := decodeDataURI(sourceURL)
		if err != nil {
			return DefaultExtension
		}
		if m := mimetype.Lookup(mediaType); m != nil && m.Extension() != "" {
			return m.Extension()
		}
		if ext := mimetype.Detect(data).Extension(); ext != "" {
			return ext
		}
		return DefaultExtension
	}

	m := extPattern.FindStringSubmatch(sourceURL)
	if m == nil {
		return DefaultExtension
	}
	ext := strings.ToLower(m[1])
	if !knownExtensions[ext] {
		return DefaultExtension
	}
	return "." + ext
}

// decodeDataURI returns the payload and media type of a base64 data: URI.
func decodeDataURI(uri string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, "", ErrMalformedDataURI
	}
	if !strings.HasSuffix(header, ";base64") {
		return nil, "", fmt.Errorf("%w: only base64 payloads are supported", ErrMalformedDataURI)
	}
	mediaType := strings.TrimSuffix(header, ";base64")
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedDataURI, err)
	}
	return data, mediaType, nil
}

func sanitize(name string) string {
	name = unsafeNameChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		return "output" + DefaultExtension
	}
	return name
}
