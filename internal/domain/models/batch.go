// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"sync"
	"time"
)

// MaxErrorDetails caps the error list kept in a batch summary.
const MaxErrorDetails = 100

// BatchOptions are accepted by every sweep.
type BatchOptions struct {
	DryRun   bool   `json:"dry_run"`
	Force    bool   `json:"force"`
	TenantID string `json:"tenant_filter,omitempty"`
	Verbose  bool   `json:"verbose"`
}

// Outcome is the result tag of one per-item operation.
type Outcome string

// Outcomes
const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// ItemError is one recorded per-item failure.
type ItemError struct {
	ID      string `json:"id"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// ExitStatus distinguishes how a batch run ended.
type ExitStatus int

// Exit statuses, used as process exit codes.
const (
	ExitSuccess ExitStatus = 0
	ExitPartial ExitStatus = 1
	ExitFatal   ExitStatus = 2
)

// BatchSummary aggregates per-item outcomes of one run. It is safe for
// concurrent use by the workers of a chunk.
type BatchSummary struct {
	Operation          string         `json:"operation"`
	DryRun             bool           `json:"dry_run"`
	Processed          int            `json:"processed"`
	TransitionedByKind map[string]int `json:"transitioned_by_kind"`
	Skipped            int            `json:"skipped"`
	ErrorCount         int            `json:"error_count"`
	Errors             []ItemError    `json:"errors"`
	Fatal              string         `json:"fatal,omitempty"`
	StartedAt          time.Time      `json:"started_at"`
	FinishedAt         time.Time      `json:"finished_at"`

	mu sync.Mutex
}

// NewBatchSummary starts an empty summary.
func NewBatchSummary(operation string, opts BatchOptions, startedAt time.Time) *BatchSummary {
	return &BatchSummary{
		Operation:          operation,
		DryRun:             opts.DryRun,
		TransitionedByKind: map[string]int{},
		Errors:             []ItemError{},
		StartedAt:          startedAt,
	}
}

// RecordProcessed counts one evaluated item.
func (b *BatchSummary) RecordProcessed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Processed++
}

// RecordApplied counts one effect of the given kind.
func (b *BatchSummary) RecordApplied(kind string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.TransitionedByKind[kind]++
}

// RecordSkipped counts one item left unchanged.
func (b *BatchSummary) RecordSkipped() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Skipped++
}

// RecordError counts a failure and keeps its detail while under the cap.
func (b *BatchSummary) RecordError(id, kind string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ErrorCount++
	if len(b.Errors) < MaxErrorDetails {
		b.Errors = append(b.Errors, ItemError{ID: id, Kind: kind, Message: err.Error()})
	}
}

// Applied returns the total number of effects across kinds.
func (b *BatchSummary) Applied() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.TransitionedByKind {
		total += n
	}
	return total
}

// Finish stamps the end time and, if err is set, marks the run fatal.
func (b *BatchSummary) Finish(finishedAt time.Time, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.FinishedAt = finishedAt
	if err != nil {
		b.Fatal = err.Error()
	}
}

// ExitStatus maps the summary onto the process exit code.
func (b *BatchSummary) ExitStatus() ExitStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.Fatal != "":
		return ExitFatal
	case b.ErrorCount > 0:
		return ExitPartial
	default:
		return ExitSuccess
	}
}
