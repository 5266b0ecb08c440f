// Copyright 2013-Present Couchbase, Inc.
//
// Use of this software is governed by the Business Source License included in
// the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
// file, in accordance with the Business Source License, use of this software
// will be governed by the Apache License, Version 2.0, included in the file
// licenses/APL2.txt.

// Compression support for the "DCP value compression" feature supplemented
// from original_source (dropped by the spec.md distillation, spec §10):
// a producer may send a mutation's value either snappy-compressed or raw,
// picking whichever the connection's negotiated min_compression_ratio
// tunable (spec §6.3 KeyMinCompressionRatio) allows.
//
// Grounded on the teacher's use of github.com/golang/snappy for XDCR's own
// wire compression (parts/xmem_nozzle.go-style compress-before-send), used
// here for the equivalent DCP-side decision.
package wire

import "github.com/golang/snappy"

// CompressValue returns value snappy-encoded, along with the achieved
// compression ratio (compressed / original, lower is better).
func CompressValue(value []byte) (compressed []byte, ratio float64) {
	if len(value) == 0 {
		return nil, 1
	}
	compressed = snappy.Encode(nil, value)
	return compressed, float64(len(compressed)) / float64(len(value))
}

// ShouldSendCompressed decides whether a mutation's value should go out
// snappy-compressed, given the channel's negotiated min_compression_ratio:
// compression is used only when it actually buys back at least that much
// size reduction, otherwise the raw value is sent (spec §6.3).
func ShouldSendCompressed(value []byte, minCompressionRatio float64) (use bool, compressed []byte) {
	if minCompressionRatio <= 0 {
		return false, nil
	}
	compressed, ratio := CompressValue(value)
	if ratio > minCompressionRatio {
		return false, nil
	}
	return true, compressed
}
