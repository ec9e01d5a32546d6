// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package constants

import "time"

// Batch processing defaults
const (
	// DefaultChunkSize is the number of rows read per chunk
	DefaultChunkSize = 500

	// DefaultConcurrency is the number of items of a chunk processed at once
	DefaultConcurrency = 8

	// DefaultProviderTimeout bounds a single video provider call
	DefaultProviderTimeout = 20 * time.Second
)

// Session timing defaults, used when a tenant does not override them
const (
	DefaultReadinessWindow     = 10 * time.Minute
	DefaultStartGrace          = 15 * time.Minute
	DefaultOvertimeAllowance   = 5 * time.Minute
	DefaultLateThreshold       = 15 * time.Minute
	DefaultEarlyLeaveThreshold = 10 * time.Minute
	DefaultPartialThreshold    = 50.0
	DefaultMaxParticipants     = 10

	// DefaultStaleAfter is how long an untouched scheduled session may stay
	// pending before the sweep treats it as missed
	DefaultStaleAfter = 24 * time.Hour
)

// Lookbacks and retention
const (
	DefaultMeetingEndLookback     = 48 * time.Hour
	DefaultMeetingCreateLookahead = 2 * time.Hour
	DefaultAttendanceLookback     = 7 * 24 * time.Hour
	DefaultPurgeAfter             = 30 * 24 * time.Hour
)

// Grace period reminders
const (
	// GraceUpdateMaxAttempts bounds optimistic retries of metadata writes
	GraceUpdateMaxAttempts = 3
)

// GraceReminderThresholds are the days-remaining values at which a second
// reminder on the same calendar day is allowed.
var GraceReminderThresholds = []int{3, 1, 0}
