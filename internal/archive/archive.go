// Package archive keeps the raw body of every authentic payment callback.
//
// Callbacks are the only record of what a provider told us. Keeping them makes
// it possible to replay a reconciliation after a store outage or to answer a
// dispute about when an order was paid.
//
// Two backends are available:
// - Local: files under a base directory, for development
// - R2: Cloudflare R2 or any S3-compatible bucket, for production
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Store is an object store for archived payloads.
type Store interface {
	// Put writes data at key. An existing object at key is replaced, so a
	// redelivered callback overwrites its earlier copy.
	Put(ctx context.Context, key string, data io.Reader, contentType string) error

	// Get returns the object at key. The caller must close the reader.
	// Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// =============================================================================
// Configuration Types
// =============================================================================

const (
	// ProviderLocal identifies the local filesystem backend.
	ProviderLocal = "local"

	// ProviderR2 identifies the Cloudflare R2 backend.
	ProviderR2 = "r2"
)

// LocalConfig holds configuration for the local filesystem backend.
type LocalConfig struct {
	// BasePath is the root directory for archived payloads.
	// Example: "./data/webhooks" or "/var/lib/tally"
	BasePath string
}

// R2Config holds configuration for Cloudflare R2.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// Endpoint overrides the R2 endpoint derived from AccountID, for other
	// S3-compatible stores.
	Endpoint string

	// Region defaults to "auto".
	Region string
}

// =============================================================================
// Key Generation
// =============================================================================

// Key builds the object key for a callback.
// Format: webhooks/{provider}/{yyyy}/{mm}/{dd}/{eventID}.json
//
// Event ids are reduced to a safe character set. Callbacks without an id get
// a random one so they are never dropped.
//
// Example: "webhooks/stripe/2026/10/16/evt_1Q2w3E.json"
func Key(provider, eventID string, at time.Time) string {
	id := sanitize(eventID)
	if id == "" {
		id = uuid.NewString()
	}
	at = at.UTC()
	return fmt.Sprintf("webhooks/%s/%04d/%02d/%02d/%s.json", sanitize(provider), at.Year(), int(at.Month()), at.Day(), id)
}

// ProviderOf returns the provider segment of a key built by Key.
func ProviderOf(key string) (string, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 6 || parts[0] != "webhooks" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == '.':
			return '_'
		}
		return '-'
	}, s)
}

// =============================================================================
// Archiver
// =============================================================================

// Archiver writes callbacks to a Store.
type Archiver struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewArchiver creates an Archiver over store.
func NewArchiver(store Store, logger *slog.Logger) *Archiver {
	return &Archiver{store: store, now: time.Now, logger: logger}
}

// Save archives one callback body and returns its key.
func (a *Archiver) Save(ctx context.Context, provider, eventID string, body []byte) (string, error) {
	key := Key(provider, eventID, a.now())
	if err := a.store.Put(ctx, key, bytes.NewReader(body), contentTypeFor(body)); err != nil {
		return "", err
	}
	a.logger.Debug("archived webhook payload", "provider", provider, "event_id", eventID, "key", key, "size", len(body))
	return key, nil
}

// Load reads back an archived callback body.
// Returns ErrNotFound if nothing was archived under key.
func (a *Archiver) Load(ctx context.Context, key string) ([]byte, error) {
	rc, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, &StorageError{Op: "Load", Key: key, Err: err}
	}
	return body, nil
}

// contentTypeFor labels JSON bodies as JSON and everything else (Alipay form
// posts) as form data.
func contentTypeFor(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return "application/json"
	}
	return "application/x-www-form-urlencoded"
}
