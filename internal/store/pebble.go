// Package store persists the room's message log.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/cockroachdb/pebble/v2"
	"github.com/omochice/room-chat/pkg/protocol"
)

// PebbleLog is a chat.History backed by a Pebble key-value store.
// Keys are 8-byte big-endian sequence numbers, values are JSON messages.
type PebbleLog struct {
	db   *pebble.DB
	last atomic.Uint64
}

// Open opens or creates the log in dir and recovers the last sequence number.
func Open(dir string) (*PebbleLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	l := &PebbleLog{db: db}

	it, err := db.NewIter(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if it.Last() && len(it.Key()) == 8 {
		l.last.Store(binary.BigEndian.Uint64(it.Key()))
	}
	if err := it.Close(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func key(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Append implements chat.History.
func (l *PebbleLog) Append(_ context.Context, m protocol.Message) error {
	val, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := l.db.Set(key(m.Seq), val, pebble.Sync); err != nil {
		return fmt.Errorf("store message %d: %w", m.Seq, err)
	}
	if m.Seq > l.last.Load() {
		l.last.Store(m.Seq)
	}
	return nil
}

// Since implements chat.History.
func (l *PebbleLog) Since(ctx context.Context, after uint64, limit int) ([]protocol.Message, error) {
	if after == ^uint64(0) {
		return nil, nil
	}
	it, err := l.db.NewIterWithContext(ctx, &pebble.IterOptions{LowerBound: key(after + 1)})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var out []protocol.Message
	for it.First(); it.Valid(); it.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var m protocol.Message
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			return nil, fmt.Errorf("decode message %x: %w", it.Key(), err)
		}
		out = append(out, m)
	}
	return out, it.Error()
}

// LastSeq implements chat.History.
func (l *PebbleLog) LastSeq() uint64 {
	return l.last.Load()
}

// Close flushes and closes the database.
func (l *PebbleLog) Close() error {
	return l.db.Close()
}
