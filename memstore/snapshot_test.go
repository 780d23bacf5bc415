// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBlobStore is an in-memory SnapshotStore for tests.
type memBlobStore struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	latest string
	puts   int
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (m *memBlobStore) Put(_ context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[id] = append([]byte(nil), data...)
	m.puts++
	return nil
}

func (m *memBlobStore) Get(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return append([]byte(nil), data...), nil
}

func (m *memBlobStore) SetLatest(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = id
	return nil
}

func (m *memBlobStore) Latest(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, nil
}

func newPersistentStore(t *testing.T, blobs SnapshotStore, opts ...Option) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PersistenceEnabled = true
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithSnapshotStore(blobs),
	}, opts...)
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	return s
}

// TestSnapshotDisabled verifies snapshot operations fail when
// persistence is off.
func TestSnapshotDisabled(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SaveSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrPersistenceDisabled)

	err = s.LoadSnapshot(context.Background(), "any")
	assert.ErrorIs(t, err, ErrPersistenceDisabled)
}

// TestSnapshotRoundTrip verifies save then load restores values and
// history.
func TestSnapshotRoundTrip(t *testing.T) {
	blobs := newMemBlobStore()
	s := newPersistentStore(t, blobs)
	ctx := context.Background()

	require.NoError(t, s.Write("ns", "k", NumberValue(1), "a1", nil))
	require.NoError(t, s.Write("ns", "k", NumberValue(2), "a1", nil))
	require.NoError(t, s.Write("other", "obj", ObjectValue(map[string]Value{
		"topics": ArrayValue([]Value{StringValue("budget"), StringValue("roadmap")}),
	}), "a2", nil))

	id, err := s.SaveSnapshot(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Diverge, then restore.
	require.NoError(t, s.Write("ns", "k", NumberValue(99), "a3", nil))
	s.Delete("other", "obj", "a3")

	require.NoError(t, s.LoadSnapshot(ctx, id))

	current, _ := s.Read("ns", "k", "checker").AsNumber()
	assert.Equal(t, float64(2), current)

	history, err := s.GetHistory("ns", "k")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	obj, ok := s.Read("other", "obj", "checker").AsObject()
	require.True(t, ok)
	topics, ok := obj["topics"].AsArray()
	require.True(t, ok)
	require.Len(t, topics, 2)
	first, _ := topics[0].AsString()
	assert.Equal(t, "budget", first)
}

// TestLoadUnknownSnapshot verifies a missing id fails without touching
// state.
func TestLoadUnknownSnapshot(t *testing.T) {
	s := newPersistentStore(t, newMemBlobStore())

	require.NoError(t, s.Write("ns", "k", NumberValue(1), "a1", nil))

	err := s.LoadSnapshot(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	// State untouched on failure.
	assert.False(t, s.Read("ns", "k", "checker").IsAbsent())
}

// TestLoadCorruptSnapshot verifies a corrupt blob fails the load and
// leaves the store unchanged.
func TestLoadCorruptSnapshot(t *testing.T) {
	blobs := newMemBlobStore()
	s := newPersistentStore(t, blobs)
	ctx := context.Background()

	require.NoError(t, s.Write("ns", "k", NumberValue(1), "a1", nil))
	require.NoError(t, blobs.Put(ctx, "corrupt", []byte("{not json")))

	assert.Error(t, s.LoadSnapshot(ctx, "corrupt"))
	current, _ := s.Read("ns", "k", "checker").AsNumber()
	assert.Equal(t, float64(1), current)
}

// TestInitializeReloadsLatest verifies a fresh store picks up the most
// recent snapshot.
func TestInitializeReloadsLatest(t *testing.T) {
	blobs := newMemBlobStore()
	ctx := context.Background()

	first := newPersistentStore(t, blobs)
	require.NoError(t, first.Initialize(ctx))
	require.NoError(t, first.Write("ns", "k", StringValue("persisted"), "a1", nil))
	_, err := first.SaveSnapshot(ctx)
	require.NoError(t, err)

	second := newPersistentStore(t, blobs)
	require.NoError(t, second.Initialize(ctx))

	got, _ := second.Read("ns", "k", "checker").AsString()
	assert.Equal(t, "persisted", got)

	// Idempotent.
	require.NoError(t, second.Initialize(ctx))
}

// TestInitializeWithoutSnapshots verifies a clean blob store starts
// empty without error.
func TestInitializeWithoutSnapshots(t *testing.T) {
	s := newPersistentStore(t, newMemBlobStore())
	require.NoError(t, s.Initialize(context.Background()))
	assert.Zero(t, s.Stats().TotalEntries)
}

// TestRevertTo verifies point-in-time revert extends history through
// the normal write path.
func TestRevertTo(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))

	require.NoError(t, s.Write("ns", "k", NumberValue(1), "a1", nil))
	v1At := clock.Now().UnixMilli()
	clock.Advance(time.Minute)
	require.NoError(t, s.Write("ns", "k", NumberValue(2), "a2", nil))
	clock.Advance(time.Minute)
	require.NoError(t, s.Write("ns", "k", NumberValue(3), "a3", nil))
	clock.Advance(time.Minute)

	require.NoError(t, s.RevertTo("ns", "k", v1At, "operator"))

	current, _ := s.Read("ns", "k", "checker").AsNumber()
	assert.Equal(t, float64(1), current)

	history, err := s.GetHistory("ns", "k")
	require.NoError(t, err)
	require.Len(t, history, 4, "revert appends, never truncates")

	head := history[0]
	assert.Equal(t, "operator", head.AgentID)
	assert.Equal(t, v1At, head.Metadata["reverted_from"])
	assert.Equal(t, "a1", head.Metadata["original_agent_id"])
}

// TestRevertIdempotentOnReRevert verifies reverting twice to the same
// timestamp yields the same value with one extra version each time.
func TestRevertIdempotentOnReRevert(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))

	require.NoError(t, s.Write("ns", "k", StringValue("old"), "a1", nil))
	target := clock.Now().UnixMilli()
	clock.Advance(time.Minute)
	require.NoError(t, s.Write("ns", "k", StringValue("new"), "a2", nil))
	clock.Advance(time.Minute)

	require.NoError(t, s.RevertTo("ns", "k", target, "operator"))
	firstValue := s.Read("ns", "k", "checker")
	clock.Advance(time.Minute)

	require.NoError(t, s.RevertTo("ns", "k", target, "operator"))
	secondValue := s.Read("ns", "k", "checker")

	assert.True(t, firstValue.Equal(secondValue))

	history, err := s.GetHistory("ns", "k")
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

// TestRevertToMissing verifies not-found failures for unknown keys and
// too-early timestamps.
func TestRevertToMissing(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))

	assert.ErrorIs(t, s.RevertTo("ns", "ghost", clock.Now().UnixMilli(), "op"), ErrNotFound)

	clock.Advance(time.Minute)
	require.NoError(t, s.Write("ns", "k", NumberValue(1), "a1", nil))
	before := clock.Now().UnixMilli() - 1
	assert.ErrorIs(t, s.RevertTo("ns", "k", before, "op"), ErrNotFound)
}

// TestConcurrentSavesDeduplicated verifies racing saves collapse into
// one snapshot id.
func TestConcurrentSavesDeduplicated(t *testing.T) {
	blobs := newMemBlobStore()

	// A blob store that blocks in Put long enough for callers to pile up.
	slow := &slowBlobStore{SnapshotStore: blobs, delay: 50 * time.Millisecond}
	s := newPersistentStore(t, slow)
	require.NoError(t, s.Write("ns", "k", NumberValue(1), "a1", nil))

	const callers = 4
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.SaveSnapshot(context.Background())
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id, "racing callers share one snapshot")
	}
	assert.Equal(t, 1, blobs.puts)
}

// slowBlobStore delays Put to widen the singleflight window.
type slowBlobStore struct {
	SnapshotStore
	delay time.Duration
}

func (s *slowBlobStore) Put(ctx context.Context, id string, data []byte) error {
	time.Sleep(s.delay)
	return s.SnapshotStore.Put(ctx, id, data)
}
