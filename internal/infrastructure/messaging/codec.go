// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package messaging

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

// MaxBatchEvents caps the number of events accepted in one batch message.
const MaxBatchEvents = 5000

// DecodeAttendanceEvent decodes a single JSON encoded attendance event.
func DecodeAttendanceEvent(data []byte) (*models.AttendanceEvent, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, domain.NewValidationError("empty attendance event")
	}
	var event models.AttendanceEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, domain.NewValidationError("invalid attendance event JSON", err)
	}
	return &event, nil
}

// DecodeAttendanceBatch decodes a msgpack encoded array of attendance events.
func DecodeAttendanceBatch(data []byte) ([]*models.AttendanceEvent, error) {
	if len(data) == 0 {
		return nil, domain.NewValidationError("empty attendance batch")
	}

	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, domain.NewValidationError("attendance batch is not a msgpack array", err)
	}
	if n < 0 {
		return nil, nil
	}
	if n > MaxBatchEvents {
		return nil, domain.NewValidationError(fmt.Sprintf("attendance batch of %d events exceeds the limit of %d", n, MaxBatchEvents))
	}

	events := make([]*models.AttendanceEvent, 0, n)
	for i := 0; i < n; i++ {
		var event models.AttendanceEvent
		if err := dec.Decode(&event); err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("invalid attendance event %d in batch", i), err)
		}
		events = append(events, &event)
	}
	return events, nil
}

// EncodeAttendanceBatch is the inverse of DecodeAttendanceBatch.
func EncodeAttendanceBatch(events []*models.AttendanceEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(events); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
