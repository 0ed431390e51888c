package storage

import (
	"context"
	"encoding/json"
	"time"

	"echoes-history-service/internal/logger"
)

const (
	// ProgressNamespace prefixes HistoryProgress blobs.
	ProgressNamespace = "history_progress"
	// QuizStateNamespace prefixes resumable in-flight quiz blobs.
	QuizStateNamespace = "quiz_attempt"
)

// Key builds a namespaced key of the form namespace:userID:eventID.
func Key(namespace, userID, eventID string) string {
	return namespace + ":" + userID + ":" + eventID
}

// KV is a raw key/value backend (Redis, in-process map, ...).
// Get reports ok=false for missing keys; a non-nil error means the backend failed.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Adapter hides backend availability from callers. It prefers the primary
// backend and falls back to the in-process one when the primary is missing,
// unreachable at construction, or fails a call. Nothing here returns backend
// errors to the caller; failures are logged and reads degrade to "absent".
type Adapter struct {
	primary  KV
	fallback KV
	log      *logger.Logger
}

// NewAdapter pings primary once; a nil or unreachable primary leaves the
// adapter running on fallback alone.
func NewAdapter(ctx context.Context, primary, fallback KV, log *logger.Logger) *Adapter {
	log = logger.OrNop(log).With("component", "storage")
	a := &Adapter{fallback: fallback, log: log}
	if primary == nil {
		log.Info("persistent storage not configured, using in-memory store")
		return a
	}
	if err := primary.Ping(ctx); err != nil {
		log.Warn("persistent storage unavailable, using in-memory store", "error", err)
		return a
	}
	a.primary = primary
	return a
}

// Persistent reports whether a primary backend is in use.
func (a *Adapter) Persistent() bool {
	return a.primary != nil
}

// Read returns the stored value, or ok=false when it is absent or unreadable.
func (a *Adapter) Read(ctx context.Context, key string) (string, bool) {
	if a.primary != nil {
		value, ok, err := a.primary.Get(ctx, key)
		if err == nil && ok {
			return value, true
		}
		if err != nil {
			a.log.Warn("primary read failed", "key", key, "error", err)
		}
	}
	value, ok, err := a.fallback.Get(ctx, key)
	if err != nil {
		a.log.Warn("fallback read failed", "key", key, "error", err)
		return "", false
	}
	return value, ok
}

// Write stores value under key; a nil value deletes the key.
func (a *Adapter) Write(ctx context.Context, key string, value *string) {
	if value == nil {
		a.delete(ctx, key)
		return
	}
	a.WriteTTL(ctx, key, *value, 0)
}

// WriteTTL stores value under key, expiring after ttl when ttl > 0.
func (a *Adapter) WriteTTL(ctx context.Context, key, value string, ttl time.Duration) {
	if a.primary != nil {
		err := a.primary.Set(ctx, key, value, ttl)
		if err == nil {
			// Drop any copy written while the primary was failing.
			_ = a.fallback.Delete(ctx, key)
			return
		}
		a.log.Warn("primary write failed, keeping value in memory", "key", key, "error", err)
	}
	if err := a.fallback.Set(ctx, key, value, ttl); err != nil {
		a.log.Error("fallback write failed", "key", key, "error", err)
	}
}

func (a *Adapter) delete(ctx context.Context, key string) {
	if a.primary != nil {
		if err := a.primary.Delete(ctx, key); err != nil {
			a.log.Warn("primary delete failed", "key", key, "error", err)
		}
	}
	if err := a.fallback.Delete(ctx, key); err != nil {
		a.log.Warn("fallback delete failed", "key", key, "error", err)
	}
}

// ReadJSON decodes the blob at key into v. Absent and malformed blobs both
// report false; malformed ones are logged.
func (a *Adapter) ReadJSON(ctx context.Context, key string, v any) bool {
	raw, ok := a.Read(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		a.log.Warn("ignoring corrupt stored blob", "key", key, "error", err)
		return false
	}
	return true
}

// WriteJSON encodes v and stores it under key. Only encoding errors are returned.
func (a *Adapter) WriteJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	a.WriteTTL(ctx, key, string(data), ttl)
	return nil
}
