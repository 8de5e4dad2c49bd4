// Package emit delivers aggregated snapshots to their sinks: a JSONL file,
// a redis stream, and any in-process subscribers.
package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/stablewatch/stablewatch/internal/schema"
)

// Sink consumes emitted snapshots.
type Sink interface {
	Emit(ctx context.Context, snapshot *schema.AggregatedRiskSnapshot) error
	Close() error
}

// FileSink appends snapshots to a JSONL file.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) the snapshot file for appending.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Emit(_ context.Context, snapshot *schema.AggregatedRiskSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// RedisSink publishes snapshots onto a redis stream via XADD.
type RedisSink struct {
	client *redis.Client
	stream string
}

// NewRedisSink connects to addr and targets the given stream.
func NewRedisSink(addr, stream string) *RedisSink {
	return &RedisSink{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		stream: stream,
	}
}

// Ping verifies connectivity at startup.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSink) Emit(ctx context.Context, snapshot *schema.AggregatedRiskSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"coin":      snapshot.Coin,
			"window_id": snapshot.WindowID,
			"snapshot":  string(data),
		},
	}).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

// FuncSink adapts a function into a sink, for in-process subscribers.
type FuncSink func(*schema.AggregatedRiskSnapshot)

func (f FuncSink) Emit(_ context.Context, snapshot *schema.AggregatedRiskSnapshot) error {
	f(snapshot)
	return nil
}

func (f FuncSink) Close() error { return nil }

// Multi fans each snapshot out to every sink. A failing sink logs and does
// not block the others.
type Multi struct {
	sinks []Sink
}

// NewMulti builds a fan-out over the given sinks.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Add appends a sink.
func (m *Multi) Add(sink Sink) {
	m.sinks = append(m.sinks, sink)
}

func (m *Multi) Emit(ctx context.Context, snapshot *schema.AggregatedRiskSnapshot) error {
	for _, sink := range m.sinks {
		if err := sink.Emit(ctx, snapshot); err != nil {
			log.Error().Str("coin", snapshot.Coin).Str("window_id", snapshot.WindowID).
				Err(err).Msg("snapshot sink failed")
		}
	}
	return nil
}

func (m *Multi) Close() error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
