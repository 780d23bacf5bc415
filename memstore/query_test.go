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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keysOf(results []QueryResult) []string {
	keys := make([]string, 0, len(results))
	for _, r := range results {
		keys = append(keys, r.Key)
	}
	return keys
}

// TestQueryKeyRegex verifies that a prefix regex over one namespace
// returns exactly the matching keys.
func TestQueryKeyRegex(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write("ns1", "prefix-a", NumberValue(1), "a1", nil))
	require.NoError(t, s.Write("ns1", "prefix-b", NumberValue(2), "a1", nil))
	require.NoError(t, s.Write("ns1", "other", NumberValue(3), "a1", nil))

	results, err := s.Query(QueryOptions{
		AgentID:    "a1",
		Namespaces: []string{"ns1"},
		KeyRegex:   "prefix-.*",
		Order:      SortAsc,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"prefix-a", "prefix-b"}, keysOf(results))
}

// TestQueryKeyGlob verifies glob patterns.
func TestQueryKeyGlob(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write("ns1", "session-1", NumberValue(1), "a1", nil))
	require.NoError(t, s.Write("ns1", "session-2", NumberValue(2), "a1", nil))
	require.NoError(t, s.Write("ns1", "topic-1", NumberValue(3), "a1", nil))

	results, err := s.Query(QueryOptions{
		AgentID:    "a1",
		Namespaces: []string{"ns1"},
		KeyGlob:    "session-*",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"session-1", "session-2"}, keysOf(results))
}

// TestQueryInvalidPatterns verifies malformed patterns surface
// synchronously as validation errors.
func TestQueryInvalidPatterns(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Query(QueryOptions{KeyRegex: "prefix-["})
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = s.Query(QueryOptions{KeyGlob: "bad[glob"})
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = s.Query(QueryOptions{KeyGlob: "a*", KeyRegex: "a.*"})
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

// TestQueryValueTypeFilter verifies filtering by structural type.
func TestQueryValueTypeFilter(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write("ns", "str", StringValue("s"), "a1", nil))
	require.NoError(t, s.Write("ns", "num", NumberValue(1), "a1", nil))
	require.NoError(t, s.Write("ns", "obj", ObjectValue(nil), "a1", nil))

	results, err := s.Query(QueryOptions{
		Namespaces: []string{"ns"},
		ValueType:  TypeNumber,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"num"}, keysOf(results))
}

// TestQueryTimeWindow verifies the [From, To] filter on LastUpdated.
func TestQueryTimeWindow(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))

	require.NoError(t, s.Write("ns", "early", NumberValue(1), "a1", nil))
	clock.Advance(time.Minute)
	from := clock.Now().UnixMilli()
	require.NoError(t, s.Write("ns", "mid", NumberValue(2), "a1", nil))
	clock.Advance(time.Minute)
	to := clock.Now().UnixMilli()
	require.NoError(t, s.Write("ns", "late-in-window", NumberValue(3), "a1", nil))
	clock.Advance(time.Minute)
	require.NoError(t, s.Write("ns", "late", NumberValue(4), "a1", nil))

	results, err := s.Query(QueryOptions{
		Namespaces: []string{"ns"},
		From:       from,
		To:         to,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mid", "late-in-window"}, keysOf(results))
}

// TestQueryOrderAndLimit verifies sorting by LastUpdated and the
// result cap.
func TestQueryOrderAndLimit(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))

	for _, key := range []string{"k1", "k2", "k3"} {
		require.NoError(t, s.Write("ns", key, NumberValue(1), "a1", nil))
		clock.Advance(time.Second)
	}

	asc, err := s.Query(QueryOptions{Namespaces: []string{"ns"}, Order: SortAsc})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2", "k3"}, keysOf(asc))

	desc, err := s.Query(QueryOptions{Namespaces: []string{"ns"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"k3", "k2", "k1"}, keysOf(desc), "desc is the default order")

	limited, err := s.Query(QueryOptions{Namespaces: []string{"ns"}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"k3", "k2"}, keysOf(limited))
}

// TestQueryIncludeHistory verifies history attachment.
func TestQueryIncludeHistory(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write("ns", "k", NumberValue(1), "a1", nil))
	require.NoError(t, s.Write("ns", "k", NumberValue(2), "a1", nil))

	results, err := s.Query(QueryOptions{
		Namespaces:     []string{"ns"},
		IncludeHistory: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].History, 2)

	head, _ := results[0].History[0].Value.AsNumber()
	assert.Equal(t, float64(2), head)

	bare, err := s.Query(QueryOptions{Namespaces: []string{"ns"}})
	require.NoError(t, err)
	assert.Nil(t, bare[0].History)
}

// TestQueryNamespaceScoping verifies default, explicit, and
// all-namespace scans.
func TestQueryNamespaceScoping(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write("", "in-default", NumberValue(1), "a1", nil))
	require.NoError(t, s.Write("ns1", "in-ns1", NumberValue(2), "a1", nil))
	require.NoError(t, s.Write("ns2", "in-ns2", NumberValue(3), "a1", nil))

	defaulted, err := s.Query(QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"in-default"}, keysOf(defaulted))

	scoped, err := s.Query(QueryOptions{Namespaces: []string{"ns1", "ns2"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"in-ns1", "in-ns2"}, keysOf(scoped))

	all, err := s.Query(QueryOptions{AllNamespaces: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// TestListKeys verifies listing with and without a glob.
func TestListKeys(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write("ns", "alpha", NumberValue(1), "a1", nil))
	require.NoError(t, s.Write("ns", "beta", NumberValue(2), "a1", nil))
	require.NoError(t, s.Write("other", "gamma", NumberValue(3), "a1", nil))

	keys, err := s.ListKeys("ns", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, keys)

	keys, err = s.ListKeys("ns", "a*")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, keys)

	_, err = s.ListKeys("ns", "bad[")
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

// TestListNamespaces verifies enumeration tracks live entries only.
func TestListNamespaces(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write("b-ns", "k", NumberValue(1), "a1", nil))
	require.NoError(t, s.Write("a-ns", "k", NumberValue(2), "a1", nil))

	assert.Equal(t, []string{"a-ns", "b-ns"}, s.ListNamespaces())

	s.Delete("a-ns", "k", "a1")
	assert.Equal(t, []string{"b-ns"}, s.ListNamespaces())
}
