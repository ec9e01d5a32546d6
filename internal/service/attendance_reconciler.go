// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"math"
	"sort"
	"time"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

// ReconcileAttendance folds the raw events of a session into one attendance
// record per participant. It is pure: the same inputs always produce the
// same records, whatever order the events arrived in.
func ReconcileAttendance(
	session *models.Session,
	events []*models.AttendanceEvent,
	settings models.TenantSettings,
	calculatedAt time.Time,
) []*models.AttendanceRecord {
	sorted := make([]*models.AttendanceEvent, 0, len(events))
	for _, e := range events {
		if e != nil && e.SessionID == session.ID && e.EventType.IsValid() {
			sorted = append(sorted, e)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	byParticipant := make(map[string][]*models.AttendanceEvent)
	for _, e := range sorted {
		byParticipant[e.ParticipantRef] = append(byParticipant[e.ParticipantRef], e)
	}

	participants := make([]string, 0, len(byParticipant))
	for ref := range byParticipant {
		participants = append(participants, ref)
	}
	if session.IsIndividual() && session.StudentRef != nil && *session.StudentRef != "" {
		if _, seen := byParticipant[*session.StudentRef]; !seen {
			participants = append(participants, *session.StudentRef)
		}
	}
	sort.Strings(participants)

	records := make([]*models.AttendanceRecord, 0, len(participants))
	for _, ref := range participants {
		cycles := foldCycles(byParticipant[ref], session.ActualEnd())
		records = append(records, buildRecord(session, ref, cycles, settings, calculatedAt))
	}
	return records
}

// foldCycles turns one participant's ordered events into presence intervals.
// A join while a cycle is open closes that cycle first; a leave without an
// open cycle is ignored; a cycle still open at the end closes at actualEnd.
func foldCycles(events []*models.AttendanceEvent, actualEnd time.Time) []models.Cycle {
	var (
		cycles []models.Cycle
		open   *time.Time
	)
	for _, e := range events {
		ts := e.Timestamp
		switch {
		case e.EventType.OpensCycle():
			if open != nil {
				cycles = append(cycles, models.Cycle{Start: *open, End: ts})
			}
			open = &ts
		case e.EventType == models.AttendanceEventLeave:
			if open == nil {
				continue
			}
			cycles = append(cycles, models.Cycle{Start: *open, End: ts})
			open = nil
		}
	}
	if open != nil {
		end := actualEnd
		if end.Before(*open) {
			end = *open
		}
		cycles = append(cycles, models.Cycle{Start: *open, End: end, AutoClosed: true})
	}
	return cycles
}

func buildRecord(
	session *models.Session,
	participantRef string,
	cycles []models.Cycle,
	settings models.TenantSettings,
	calculatedAt time.Time,
) *models.AttendanceRecord {
	at := calculatedAt
	record := &models.AttendanceRecord{
		SessionID:      session.ID,
		ParticipantRef: participantRef,
		Cycles:         cycles,
		IsCalculated:   true,
		Status:         models.AttendanceStatusAbsent,
		CalculatedAt:   &at,
	}
	if len(cycles) == 0 {
		record.Cycles = []models.Cycle{}
		return record
	}

	var total time.Duration
	for _, c := range cycles {
		total += c.Duration()
	}
	record.TotalDurationMinutes = int(math.Round(total.Minutes()))
	record.Percentage = attendancePercentage(record.TotalDurationMinutes, session.DurationMinutes)

	firstJoin := cycles[0].Start
	lastLeave := cycles[len(cycles)-1].End
	record.FirstJoinTime = &firstJoin
	record.LastLeaveTime = &lastLeave

	switch {
	case firstJoin.After(session.ScheduledAt.Add(settings.LateThreshold)):
		record.Status = models.AttendanceStatusLate
	case lastLeave.Before(session.ScheduledEnd().Add(-settings.EarlyLeaveThreshold)):
		record.Status = models.AttendanceStatusLeftEarly
	case record.Percentage < settings.PartialThreshold:
		record.Status = models.AttendanceStatusPartial
	default:
		record.Status = models.AttendanceStatusPresent
	}
	return record
}

// attendancePercentage is total/duration as a percentage, clamped to
// [0, 100] and rounded to two decimals.
func attendancePercentage(totalMinutes, durationMinutes int) float64 {
	if durationMinutes <= 0 {
		return 0
	}
	pct := float64(totalMinutes) / float64(durationMinutes) * 100
	pct = math.Max(0, math.Min(100, pct))
	return math.Round(pct*100) / 100
}
