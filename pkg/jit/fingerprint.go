// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"hash/fnv"
)

// Fingerprint returns a hash of the module and its entry point, to be used as (part of) a Cache key.
func Fingerprint(module []byte, entrypoint string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(module)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(entrypoint))
	return h.Sum64()
}

// CombineKeys mixes two keys into one, for instance a call site and a Fingerprint.
func CombineKeys(a, b uint64) uint64 {
	// Same mixing as boost::hash_combine, widened to 64 bits.
	return a ^ (b + 0x9e3779b97f4a7c15 + (a << 6) + (a >> 2))
}
