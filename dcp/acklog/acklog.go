// Copyright 2013-Present Couchbase, Inc.
//
// Use of this software is governed by the Business Source License included in
// the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
// file, in accordance with the Business Source License, use of this software
// will be governed by the Apache License, Version 2.0, included in the file
// licenses/APL2.txt.

// Package acklog implements AckLog (spec §4.C): a sequenced ring of
// unacknowledged sent events, the replay source on a negative ack.
package acklog

import (
	"fmt"
	"sync"

	"github.com/couchbase/dcpconnmgr/dcp"
)

// Element is one sent-but-not-yet-acked event (spec §3 "Ack-log element").
// Exactly one of Item or VBEvent is set.
type Element struct {
	Seqno uint64
	Item  *dcp.QueuedItem
	VBEvent *dcp.VBucketEvent
	// HighPriority records which of the producer's two priority queues
	// VBEvent came from, so Rollback can requeue it to the right one.
	HighPriority bool
}

// AckLog is ordered by Seqno; seqnos are strictly increasing and nothing is
// removed until acked or rolled back (spec §3 invariant).
type AckLog struct {
	mu         sync.Mutex
	entries    []Element
	lastSeqno  uint64
	haveSeqno  bool
	windowSize int
}

// New returns an AckLog with the given ack window size.
func New(windowSize int) *AckLog {
	return &AckLog{windowSize: windowSize}
}

// Record appends el when ack is enabled. Returns an error if seqno does not
// strictly increase over the last recorded seqno - callers should treat
// that as a programming error (malformed ack bookkeeping), not a runtime
// condition to recover from (spec §7: "malformed ack" logged at WARNING).
func (a *AckLog) Record(el Element) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.haveSeqno && el.Seqno <= a.lastSeqno {
		return fmt.Errorf("acklog: seqno %d does not exceed last recorded seqno %d", el.Seqno, a.lastSeqno)
	}
	a.entries = append(a.entries, el)
	a.lastSeqno = el.Seqno
	a.haveSeqno = true
	return nil
}

// Ack drops all entries with Seqno <= upTo.
func (a *AckLog) Ack(upTo uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := 0
	for ; i < len(a.entries); i++ {
		if a.entries[i].Seqno > upTo {
			break
		}
	}
	a.entries = a.entries[i:]
}

// Rollback removes and returns, in original (ascending seqno) order, every
// entry with Seqno >= from. The caller (producer) is responsible for
// requeuing: mutations to the front of EventQueue, vbucket events to the
// front of the respective priority queue, per spec §4.C.
func (a *AckLog) Rollback(from uint64) []Element {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := 0
	for ; i < len(a.entries); i++ {
		if a.entries[i].Seqno >= from {
			break
		}
	}
	replayed := make([]Element, len(a.entries)-i)
	copy(replayed, a.entries[i:])
	a.entries = a.entries[:i]
	if len(a.entries) > 0 {
		a.lastSeqno = a.entries[len(a.entries)-1].Seqno
	} else {
		a.haveSeqno = false
		a.lastSeqno = 0
	}
	return replayed
}

// IsFull reports the "window full" predicate: producers must not send
// when it holds, and should pause and wait for acks instead (spec §4.C).
func (a *AckLog) IsFull() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries) >= a.windowSize
}

// Len returns the number of currently unacknowledged entries.
func (a *AckLog) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// SetWindowSize live-updates the ack window size (called through
// Producer.SetAckWindowSize).
func (a *AckLog) SetWindowSize(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.windowSize = n
}
