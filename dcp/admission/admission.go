// Copyright 2013-Present Couchbase, Inc.
//
// Use of this software is governed by the Business Source License included in
// the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
// file, in accordance with the Business Source License, use of this software
// will be governed by the Apache License, Version 2.0, included in the file
// licenses/APL2.txt.

// Package admission implements BackfillAdmission (spec §4.D): a global,
// mutex-guarded counter that throttles the number of concurrent disk
// backfills across every producer in the process.
//
// Grounded on DcpConnMap's `backfills` struct and
// updateMaxActiveSnoozingBackfills in
// _examples/original_source/engines/ep/src/dcp/dcpconnmap.cc; the dynamic
// limit-recompute shape also borrows from base.Semaphore.SetLimit, adapted
// from a channel-of-tokens to a plain counter since BackfillAdmission's
// contract is explicitly non-blocking (TryAcquire, never Acquire).
package admission

import (
	"sync"

	"github.com/couchbase/dcpconnmgr/log"
)

const (
	// dbFileMemBytes mirrors DcpConnMap::dbFileMem.
	dbFileMemBytes = 10 * 1024
	// numBackfillsMemThresholdPercent mirrors DcpConnMap::numBackfillsMemThreshold.
	numBackfillsMemThresholdPercent = 1
	minMax                          = 1
	maxMax                          = 4096
)

// BackfillAdmission is shared across all producers in the process.
type BackfillAdmission struct {
	mu     sync.Mutex
	active int
	max    int
	logger *log.CommonLogger
}

// New returns a BackfillAdmission with an initial max of 1 (the minimum
// allowed); callers should follow up with UpdateMaxFromDataSize once the
// engine's configured max memory is known.
func New(logger *log.CommonLogger) *BackfillAdmission {
	return &BackfillAdmission{max: minMax, logger: logger}
}

// TryAcquire atomically increments active and returns true if active < max
// before the call, else returns false without side effects.
func (b *BackfillAdmission) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active < b.max {
		b.active++
		return true
	}
	return false
}

// Release decrements active. An attempt to release below zero is an
// unexpected condition (spec §7): it is logged at WARNING and swallowed,
// never an assertion failure, since a process-wide counter must keep
// serving the rest of the process even if one caller's bookkeeping is off.
func (b *BackfillAdmission) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active <= 0 {
		if b.logger != nil {
			b.logger.Warnf("BackfillAdmission: release() called with active snoozing backfills already zero")
		}
		return
	}
	b.active--
}

// Active returns the current number of admitted backfills.
func (b *BackfillAdmission) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Max returns the current admission ceiling.
func (b *BackfillAdmission) Max() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.max
}

// UpdateMaxFromDataSize recomputes max from the engine's configured max
// data size, per spec §4.D:
//
//	max = clamp(maxDataSize * numBackfillsMemThreshold% / dbFileMem, 1, 4096)
//
// It is invoked whenever `max_size`/`max_data_size` changes (dcp/config).
func (b *BackfillAdmission) UpdateMaxFromDataSize(maxDataSize uint64) {
	raw := float64(maxDataSize) * (float64(numBackfillsMemThresholdPercent) / 100.0) / float64(dbFileMemBytes)

	newMax := int(raw)
	if newMax < minMax {
		newMax = minMax
	}
	if newMax > maxMax {
		newMax = maxMax
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.max = newMax
	if b.logger != nil {
		b.logger.Debugf("Max active snoozing backfills set to %d", newMax)
	}
}
