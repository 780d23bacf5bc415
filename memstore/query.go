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
	"fmt"
	"regexp"
	"sort"

	"github.com/gobwas/glob"
)

// SortOrder orders query results by LastUpdated.
type SortOrder string

const (
	// SortAsc orders oldest-updated first.
	SortAsc SortOrder = "asc"

	// SortDesc orders newest-updated first. Default.
	SortDesc SortOrder = "desc"
)

// QueryOptions filters and shapes a cross-key query.
//
// All filters are conjunctive; zero values disable the corresponding
// filter. KeyGlob and KeyRegex are mutually exclusive.
type QueryOptions struct {
	// AgentID identifies the caller, recorded in the operation log.
	AgentID string

	// Namespaces restricts results to these namespaces. Empty means
	// the default namespace only; use AllNamespaces to scan everything.
	Namespaces []string

	// AllNamespaces scans every namespace, ignoring Namespaces.
	AllNamespaces bool

	// KeyGlob filters keys by a glob pattern (e.g. "session-*").
	KeyGlob string

	// KeyRegex filters keys by a regular expression (e.g. "prefix-.*").
	KeyRegex string

	// ValueType restricts results to entries of this type.
	ValueType ValueType

	// From and To bound LastUpdated (epoch ms, inclusive). Zero means
	// unbounded on that side.
	From int64
	To   int64

	// IncludeHistory attaches each entry's full version list.
	IncludeHistory bool

	// Limit caps the number of results after sorting. Zero means no cap.
	Limit int `validate:"gte=0"`

	// Order sorts by LastUpdated; defaults to SortDesc.
	Order SortOrder `validate:"omitempty,oneof=asc desc"`
}

// QueryResult is one matched entry.
type QueryResult struct {
	Namespace   string          `json:"namespace"`
	Key         string          `json:"key"`
	Value       Value           `json:"value"`
	ValueType   ValueType       `json:"value_type"`
	Created     int64           `json:"created"`
	LastUpdated int64           `json:"last_updated"`
	History     []VersionRecord `json:"history,omitempty"`
}

// keyMatcher compiles the glob/regex options into a single predicate.
func keyMatcher(opts QueryOptions) (func(string) bool, error) {
	switch {
	case opts.KeyGlob != "" && opts.KeyRegex != "":
		return nil, fmt.Errorf("%w: glob and regex are mutually exclusive", ErrInvalidPattern)
	case opts.KeyGlob != "":
		g, err := glob.Compile(opts.KeyGlob)
		if err != nil {
			return nil, fmt.Errorf("%w: glob %q: %v", ErrInvalidPattern, opts.KeyGlob, err)
		}
		return g.Match, nil
	case opts.KeyRegex != "":
		re, err := regexp.Compile(opts.KeyRegex)
		if err != nil {
			return nil, fmt.Errorf("%w: regex %q: %v", ErrInvalidPattern, opts.KeyRegex, err)
		}
		return re.MatchString, nil
	default:
		return func(string) bool { return true }, nil
	}
}

// Query returns the entries matching the given options.
//
// Description:
//
//	Filters by namespace set, key pattern, value type, and LastUpdated
//	window, then sorts by LastUpdated and applies the limit. Results
//	carry copies; store state cannot be mutated through them. The scan
//	is consistent at a point in time per key, not linearizable across
//	keys. A query operation is appended to the log.
//
// Outputs:
//
//	[]QueryResult - Matches in the requested order.
//	error - ErrInvalidPattern for malformed patterns or invalid options.
func (s *Store) Query(opts QueryOptions) ([]QueryResult, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid query options: %w", err)
	}
	match, err := keyMatcher(opts)
	if err != nil {
		return nil, err
	}

	namespaces := make(map[string]struct{}, len(opts.Namespaces))
	if !opts.AllNamespaces {
		if len(opts.Namespaces) == 0 {
			namespaces[s.cfg.DefaultNamespace] = struct{}{}
		}
		for _, ns := range opts.Namespaces {
			namespaces[s.resolveNamespace(ns)] = struct{}{}
		}
	}

	s.mu.RLock()
	results := make([]QueryResult, 0)
	for ek, e := range s.entries {
		if !opts.AllNamespaces {
			if _, ok := namespaces[ek.namespace]; !ok {
				continue
			}
		}
		if !match(ek.key) {
			continue
		}
		if opts.ValueType != "" && e.valueType != opts.ValueType {
			continue
		}
		if opts.From != 0 && e.lastUpdated < opts.From {
			continue
		}
		if opts.To != 0 && e.lastUpdated > opts.To {
			continue
		}

		result := QueryResult{
			Namespace:   ek.namespace,
			Key:         ek.key,
			Value:       e.current,
			ValueType:   e.valueType,
			Created:     e.created,
			LastUpdated: e.lastUpdated,
		}
		if opts.IncludeHistory {
			result.History = make([]VersionRecord, len(e.versions))
			copy(result.History, e.versions)
		}
		results = append(results, result)
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.LastUpdated != b.LastUpdated {
			if opts.Order == SortAsc {
				return a.LastUpdated < b.LastUpdated
			}
			return a.LastUpdated > b.LastUpdated
		}
		// Stable tiebreak so equal timestamps order deterministically.
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		return a.Key < b.Key
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	s.logOperation(Operation{
		Type:    OpQuery,
		AgentID: opts.AgentID,
	})

	return results, nil
}

// ListNamespaces returns the namespaces holding at least one entry,
// sorted lexically.
func (s *Store) ListNamespaces() []string {
	s.mu.RLock()
	seen := make(map[string]struct{})
	for ek := range s.entries {
		seen[ek.namespace] = struct{}{}
	}
	s.mu.RUnlock()

	namespaces := make([]string, 0, len(seen))
	for ns := range seen {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	return namespaces
}

// ListKeys returns the keys in a namespace, optionally filtered by a
// glob pattern, sorted lexically.
//
// Outputs:
//
//	[]string - Matching keys.
//	error - ErrInvalidPattern if the glob fails to compile.
func (s *Store) ListKeys(namespace, pattern string) ([]string, error) {
	namespace = s.resolveNamespace(namespace)

	match := func(string) bool { return true }
	if pattern != "" {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: glob %q: %v", ErrInvalidPattern, pattern, err)
		}
		match = g.Match
	}

	s.mu.RLock()
	keys := make([]string, 0)
	for ek := range s.entries {
		if ek.namespace == namespace && match(ek.key) {
			keys = append(keys, ek.key)
		}
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}
