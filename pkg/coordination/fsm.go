package coordination

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	"go.uber.org/zap"
)

// ErrKeyNotFound is returned when a key is missing or expired.
var ErrKeyNotFound = errors.New("key not found")

type command struct {
	Op        string `json:"op"`
	Key       string `json:"key"`
	Value     []byte `json:"value,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

type record struct {
	Value     []byte    `json:"value"`
	ExpiresAt int64     `json:"expires_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// fsm is the replicated key-value state machine behind the registry.
type fsm struct {
	mu     sync.RWMutex
	data   map[string]*record
	logger *zap.Logger
}

func newFSM(logger *zap.Logger) *fsm {
	return &fsm{
		data:   make(map[string]*record),
		logger: logger,
	}
}

// Apply applies a raft log entry.
func (f *fsm) Apply(l *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		f.logger.Error("Failed to unmarshal command",
			zap.Error(err),
			zap.Uint64("index", l.Index),
		)
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "set":
		return f.applySet(cmd.Key, cmd.Value, cmd.ExpiresAt)
	case "delete":
		delete(f.data, cmd.Key)
		return nil
	default:
		err := fmt.Errorf("unknown operation: %s", cmd.Op)
		f.logger.Error("Unknown operation", zap.String("op", cmd.Op))
		return err
	}
}

func (f *fsm) applySet(key string, value []byte, expiresAt int64) interface{} {
	now := time.Now()

	if expiresAt > 0 && time.Unix(expiresAt, 0).Before(now) {
		return nil
	}

	entry := &record{
		Value:     value,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, exists := f.data[key]; exists {
		entry.CreatedAt = existing.CreatedAt
	}
	f.data[key] = entry

	f.logger.Debug("Set key",
		zap.String("key", key),
		zap.Int("value_size", len(value)),
	)
	return nil
}

func (f *fsm) get(key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entry, exists := f.data[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if entry.ExpiresAt > 0 && time.Unix(entry.ExpiresAt, 0).Before(time.Now()) {
		return nil, fmt.Errorf("%w: %s (expired)", ErrKeyNotFound, key)
	}
	return entry.Value, nil
}

func (f *fsm) keys(prefix string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	now := time.Now()
	var keys []string
	for key, entry := range f.data {
		if entry.ExpiresAt > 0 && time.Unix(entry.ExpiresAt, 0).Before(now) {
			continue
		}
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	return keys
}

// Snapshot creates a point-in-time copy of the state machine.
func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	dataCopy := make(map[string]*record, len(f.data))
	for k, v := range f.data {
		entry := &record{
			Value:     make([]byte, len(v.Value)),
			ExpiresAt: v.ExpiresAt,
			CreatedAt: v.CreatedAt,
			UpdatedAt: v.UpdatedAt,
		}
		copy(entry.Value, v.Value)
		dataCopy[k] = entry
	}

	return &fsmSnapshot{data: dataCopy, logger: f.logger}, nil
}

// Restore replaces the state machine contents from a snapshot.
func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot snapshotData
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.data = make(map[string]*record, len(snapshot.Data))
	now := time.Now()
	for key, entry := range snapshot.Data {
		if entry.ExpiresAt > 0 && time.Unix(entry.ExpiresAt, 0).Before(now) {
			continue
		}
		f.data[key] = entry
	}

	f.logger.Info("Restored from snapshot", zap.Int("entries", len(f.data)))
	return nil
}

type snapshotData struct {
	Version   int                `json:"version"`
	Timestamp time.Time          `json:"timestamp"`
	Data      map[string]*record `json:"data"`
}

type fsmSnapshot struct {
	data   map[string]*record
	logger *zap.Logger
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	data, err := json.Marshal(snapshotData{
		Version:   1,
		Timestamp: time.Now(),
		Data:      s.data,
	})
	if err != nil {
		sink.Cancel()
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if _, err := sink.Write(data); err != nil {
		sink.Cancel()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := sink.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot sink: %w", err)
	}

	s.logger.Debug("Persisted snapshot", zap.Int("entries", len(s.data)))
	return nil
}

func (s *fsmSnapshot) Release() {}
