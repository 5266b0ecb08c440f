// Copyright 2013-Present Couchbase, Inc.
//
// Use of this software is governed by the Business Source License included in
// the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
// file, in accordance with the Business Source License, use of this software
// will be governed by the Apache License, Version 2.0, included in the file
// licenses/APL2.txt.

// Package config implements ConfigWatcher (spec §4.H): propagation of
// live-updated tunables (spec §6.3) to every channel of a given kind.
//
// Grounded on base.MetadataChangeMonitor / base.MetadataChangeListener's
// ordered-registration shape, generalized from metakv-document listening
// to typed tunable-value listening the way base.MetakvChangeListener
// generalizes a raw metakv callback into a named, cancellable listener.
package config

import (
	"sync"

	"github.com/couchbase/dcpconnmgr/dcp"
)

// Recognised configuration keys (spec §6.3).
const (
	KeyConsumerYieldLimit     = "dcp_consumer_process_buffered_messages_yield_limit"
	KeyConsumerBatchSize      = "dcp_consumer_process_buffered_messages_batch_size"
	KeyMinCompressionRatio    = "dcp_min_compression_ratio"
	KeyMaxDataSize            = "max_size"
	KeyBGMaxPending           = "dcp_producer_backfill_max_pending"
)

// Watcher registers callbacks against named configuration keys and fans
// out changes to every listener registered for that key, in registration
// order - order matters the same way it does for
// base.MetadataChangeMonitor, since some listeners (e.g. admission
// recompute) should observe state that earlier listeners have already
// updated.
type Watcher struct {
	mu        sync.Mutex
	listeners map[string][]func(interface{})
}

// New returns an empty Watcher.
func New() *Watcher {
	return &Watcher{listeners: make(map[string][]func(interface{}))}
}

// OnChange registers fn to run whenever key changes.
func (w *Watcher) OnChange(key string, fn func(value interface{})) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners[key] = append(w.listeners[key], fn)
}

// Notify invokes every listener registered for key with value, in
// registration order. It is the Watcher's own notification path -
// intended to be driven by a dcp.ConfigStore.AddListener callback, kept
// separate so tests can drive it without a real config store.
func (w *Watcher) Notify(key string, value interface{}) {
	w.mu.Lock()
	fns := append([]func(interface{}){}, w.listeners[key]...)
	w.mu.Unlock()

	for _, fn := range fns {
		fn(value)
	}
}

// Attach registers the Watcher against a real dcp.ConfigStore for every
// key it has listeners for, so future store-side changes flow through
// Notify automatically.
func (w *Watcher) Attach(store dcp.ConfigStore) error {
	w.mu.Lock()
	keys := make([]string, 0, len(w.listeners))
	for k := range w.listeners {
		keys = append(keys, k)
	}
	w.mu.Unlock()

	for _, key := range keys {
		k := key
		if err := store.AddListener(k, func(v interface{}) { w.Notify(k, v) }); err != nil {
			return err
		}
	}
	return nil
}
