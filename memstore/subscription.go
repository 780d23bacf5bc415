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
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscription is one registered callback on a key.
type subscription struct {
	id       string
	agentID  string
	callback Callback
}

// subscriptionRegistry maps (namespace, key) to its subscriptions in
// registration order. It is the single source of truth for
// notification fan-out; subscriptions outlive the entries they watch.
//
// Thread Safety: safe for concurrent use.
type subscriptionRegistry struct {
	mu   sync.RWMutex
	subs map[entryKey][]*subscription
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{
		subs: make(map[entryKey][]*subscription),
	}
}

// add registers a callback and returns its subscription id.
func (r *subscriptionRegistry) add(ek entryKey, agentID string, cb Callback) string {
	sub := &subscription{
		id:       uuid.NewString(),
		agentID:  agentID,
		callback: cb,
	}

	r.mu.Lock()
	r.subs[ek] = append(r.subs[ek], sub)
	r.mu.Unlock()

	return sub.id
}

// remove drops every subscription the agent holds on the key. Returns
// the number removed; zero (a no-op) is not an error.
func (r *subscriptionRegistry) remove(ek entryKey, agentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.subs[ek]
	if len(existing) == 0 {
		return 0
	}

	kept := existing[:0]
	removed := 0
	for _, sub := range existing {
		if sub.agentID == agentID {
			removed++
			continue
		}
		kept = append(kept, sub)
	}
	if len(kept) == 0 {
		delete(r.subs, ek)
	} else {
		r.subs[ek] = kept
	}
	return removed
}

// dispatch delivers a notification to every subscription on the
// affected key, synchronously and in registration order.
//
// The subscription list is copied under the read lock and callbacks
// are invoked after release, so a reentrant callback may safely call
// back into the store. A panicking callback is recovered and logged;
// it neither blocks later subscribers nor affects the mutation that
// triggered the notification.
func (r *subscriptionRegistry) dispatch(n UpdateNotification, logger *slog.Logger) (delivered, failures int) {
	ek := entryKey{n.Namespace, n.Key}

	r.mu.RLock()
	targets := make([]*subscription, len(r.subs[ek]))
	copy(targets, r.subs[ek])
	r.mu.RUnlock()

	for _, sub := range targets {
		if r.invoke(sub, n, logger) {
			delivered++
		} else {
			failures++
		}
	}
	return delivered, failures
}

// invoke runs one callback with panic recovery.
func (r *subscriptionRegistry) invoke(sub *subscription, n UpdateNotification, logger *slog.Logger) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			notifyCallbackFailures.Inc()
			logger.Error("subscriber callback panicked",
				"subscription_id", sub.id,
				"agent_id", sub.agentID,
				"namespace", n.Namespace,
				"key", n.Key,
				"notification_id", n.ID,
				"panic", rec,
			)
		}
	}()
	sub.callback(n)
	return true
}

// count returns the total number of registered subscriptions.
func (r *subscriptionRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, subs := range r.subs {
		total += len(subs)
	}
	return total
}

// countForKey returns the number of subscriptions on one key.
func (r *subscriptionRegistry) countForKey(ek entryKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[ek])
}

// clear removes every subscription. Called from Store.Cleanup.
func (r *subscriptionRegistry) clear() {
	r.mu.Lock()
	r.subs = make(map[entryKey][]*subscription)
	r.mu.Unlock()
}

// Subscribe registers a callback for changes to (namespace, key).
//
// Description:
//
//	The callback fires synchronously after every completed write or
//	delete on the key, including keys that do not exist yet. A
//	subscribe operation is appended to the log.
//
// Inputs:
//
//	namespace - Logical partition; empty selects the default namespace.
//	key - The key to observe.
//	agentID - The subscribing agent.
//	callback - Invoked with each UpdateNotification. Must not be nil.
//
// Outputs:
//
//	error - ErrNilCallback if callback is nil.
func (s *Store) Subscribe(namespace, key, agentID string, callback Callback) error {
	if callback == nil {
		return ErrNilCallback
	}
	namespace = s.resolveNamespace(namespace)
	ek := entryKey{namespace, key}

	s.registry.add(ek, agentID, callback)

	s.logOperation(Operation{
		Type:      OpSubscribe,
		Namespace: namespace,
		Key:       key,
		AgentID:   agentID,
	})
	return nil
}

// Unsubscribe removes every subscription the agent holds on
// (namespace, key).
//
// Description:
//
//	Unsubscribing without a matching subscription is a no-op, not an
//	error. An unsubscribe operation is appended to the log either way.
func (s *Store) Unsubscribe(namespace, key, agentID string) {
	namespace = s.resolveNamespace(namespace)
	ek := entryKey{namespace, key}

	s.registry.remove(ek, agentID)

	s.logOperation(Operation{
		Type:      OpUnsubscribe,
		Namespace: namespace,
		Key:       key,
		AgentID:   agentID,
	})
}

// SubscriberCount returns the number of subscriptions on one key.
func (s *Store) SubscriberCount(namespace, key string) int {
	namespace = s.resolveNamespace(namespace)
	return s.registry.countForKey(entryKey{namespace, key})
}

// SubscriptionCount returns the total number of active subscriptions.
func (s *Store) SubscriptionCount() int {
	return s.registry.count()
}
