// Copyright 2013-Present Couchbase, Inc.
//
// Use of this software is governed by the Business Source License included in
// the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
// file, in accordance with the Business Source License, use of this software
// will be governed by the Apache License, Version 2.0, included in the file
// licenses/APL2.txt.

// Package filter implements VBucketFilter (spec §4.A): a set of partition
// IDs with a fast admission test, set() and a textual render for
// diagnostics.
package filter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/couchbase/dcpconnmgr/dcp"
)

// VBucketFilter is a predicate over vbucket IDs. The zero value is an empty
// filter.
//
// Empty-filter convention (spec §9 Open Question, bound in SPEC_FULL.md
// §9): an empty filter admits nothing. A real producer is always opened
// with an explicit vbucket list (even a full one); treating "no filter
// set yet" as "admits everything" would let an unconfigured producer leak
// every vbucket's mutations.
type VBucketFilter struct {
	mu  sync.RWMutex
	set map[dcp.VBucketID]struct{}
}

// New builds a filter admitting exactly the given vbuckets.
func New(vbs ...dcp.VBucketID) *VBucketFilter {
	f := &VBucketFilter{set: make(map[dcp.VBucketID]struct{}, len(vbs))}
	f.Set(vbs)
	return f
}

// Admits reports whether vb passes the filter.
func (f *VBucketFilter) Admits(vb dcp.VBucketID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.set[vb]
	return ok
}

// Set replaces the filter's membership with vbs.
func (f *VBucketFilter) Set(vbs []dcp.VBucketID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = make(map[dcp.VBucketID]struct{}, len(vbs))
	for _, vb := range vbs {
		f.set[vb] = struct{}{}
	}
}

// Add admits an additional vbucket without disturbing the rest.
func (f *VBucketFilter) Add(vb dcp.VBucketID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set[vb] = struct{}{}
}

// Remove stops admitting vb.
func (f *VBucketFilter) Remove(vb dcp.VBucketID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.set, vb)
}

// Empty reports whether the filter currently admits nothing.
func (f *VBucketFilter) Empty() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.set) == 0
}

// VBuckets returns the admitted set as a sorted slice, for diagnostics and
// for ConnRegistry to iterate when wiring/unwiring the per-vb index.
func (f *VBucketFilter) VBuckets() []dcp.VBucketID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]dcp.VBucketID, 0, len(f.set))
	for vb := range f.set {
		out = append(out, vb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders the filter for stats/log lines, e.g. "{1,2,3}".
func (f *VBucketFilter) String() string {
	vbs := f.VBuckets()
	parts := make([]string, len(vbs))
	for i, vb := range vbs {
		parts[i] = strconv.Itoa(int(vb))
	}
	return fmt.Sprintf("{%s}", strings.Join(parts, ","))
}
