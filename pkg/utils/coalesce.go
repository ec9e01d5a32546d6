// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package utils

import "time"

// CoalesceString returns the first non-empty string from the given arguments.
func CoalesceString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// CoalesceTime returns the first non-nil time, or fallback.
func CoalesceTime(fallback time.Time, values ...*time.Time) time.Time {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return fallback
}

// MaxTime returns the later of a and b.
func MaxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
