// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"fmt"
	"time"
)

// TenantSettings holds the per-academy knobs the engine reads. Zero values
// are filled from configured defaults by WithDefaults.
type TenantSettings struct {
	TenantID            string        `json:"tenant_id"`
	Timezone            string        `json:"timezone"`
	AutoCreateMeetings  bool          `json:"auto_create_meetings"`
	VideoProvider       string        `json:"video_provider"`
	ReadinessWindow     time.Duration `json:"readiness_window"`
	StartGrace          time.Duration `json:"start_grace"`
	OvertimeAllowance   time.Duration `json:"overtime_allowance"`
	QuietWindowStart    string        `json:"quiet_window_start"`
	QuietWindowEnd      string        `json:"quiet_window_end"`
	LateThreshold       time.Duration `json:"late_threshold"`
	EarlyLeaveThreshold time.Duration `json:"early_leave_threshold"`
	PartialThreshold    float64       `json:"partial_threshold"`
	MaxParticipants     int           `json:"max_participants"`
}

// WithDefaults returns a copy where every unset field takes the value from defaults.
func (t TenantSettings) WithDefaults(defaults TenantSettings) TenantSettings {
	if t.Timezone == "" {
		t.Timezone = defaults.Timezone
	}
	if t.VideoProvider == "" {
		t.VideoProvider = defaults.VideoProvider
	}
	if t.ReadinessWindow <= 0 {
		t.ReadinessWindow = defaults.ReadinessWindow
	}
	if t.StartGrace <= 0 {
		t.StartGrace = defaults.StartGrace
	}
	if t.OvertimeAllowance <= 0 {
		t.OvertimeAllowance = defaults.OvertimeAllowance
	}
	if t.QuietWindowStart == "" {
		t.QuietWindowStart = defaults.QuietWindowStart
	}
	if t.QuietWindowEnd == "" {
		t.QuietWindowEnd = defaults.QuietWindowEnd
	}
	if t.LateThreshold <= 0 {
		t.LateThreshold = defaults.LateThreshold
	}
	if t.EarlyLeaveThreshold <= 0 {
		t.EarlyLeaveThreshold = defaults.EarlyLeaveThreshold
	}
	if t.PartialThreshold <= 0 {
		t.PartialThreshold = defaults.PartialThreshold
	}
	if t.MaxParticipants <= 0 {
		t.MaxParticipants = defaults.MaxParticipants
	}
	return t
}

// Location loads the tenant's time zone, falling back to UTC.
func (t TenantSettings) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// InQuietWindow reports whether now, in tenant-local time, falls inside the
// configured quiet window. Windows may wrap midnight (e.g. 22:00-05:00).
func (t TenantSettings) InQuietWindow(now time.Time) (bool, error) {
	if t.QuietWindowStart == "" || t.QuietWindowEnd == "" {
		return false, nil
	}
	start, err := parseClock(t.QuietWindowStart)
	if err != nil {
		return false, err
	}
	end, err := parseClock(t.QuietWindowEnd)
	if err != nil {
		return false, err
	}
	if start == end {
		return false, nil
	}

	local := now.In(t.Location())
	minute := local.Hour()*60 + local.Minute()
	if start < end {
		return minute >= start && minute < end, nil
	}
	return minute >= start || minute < end, nil
}

// parseClock converts "HH:MM" into minutes after midnight.
func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", value, err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
