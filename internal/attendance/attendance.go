// Package attendance reconstructs attendance sessions from raw entry/exit
// events. It is pure computation over an already-fetched record set; no I/O.
//
// Events for one user on one device alternate entry/exit: the first event of
// a pair opens a session, the second closes it, a trailing unpaired event
// leaves the session open. Flappy readers sometimes split one real session
// into two; adjacent closed sessions are merged back together when the gap
// between exit and the next entry is under a minute. A gap of 60 seconds or
// more keeps sessions separate.
package attendance

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// MergeGap is the maximum exit-to-entry gap, in seconds, that still counts
// as one continuous session.
const MergeGap = 60

// InProgress is reported instead of an exit time for open sessions.
const InProgress = "in progress"

const timeLayout = "15:04 02/01/2006"

// Record is the minimal slice of a stored access log the reconstruction
// needs.
type Record struct {
	DeviceID int64
	UserID   int64
	Time     int64
}

type Session struct {
	EntryTS int64  `json:"entry_ts"`
	ExitTS  *int64 `json:"exit_ts"`
	Entry   string `json:"entry_time"`
	Exit    string `json:"exit_time"`
	// Nil while the session is still open; the Exit field then carries the
	// in-progress sentinel.
	TotalHours *float64 `json:"total_hours"`
}

type UserAttendance struct {
	UserID   int64     `json:"user_id"`
	Sessions []Session `json:"sessions"`
}

type DeviceAttendance struct {
	DeviceID int64            `json:"id"`
	Name     string           `json:"name"`
	Users    []UserAttendance `json:"users"`
}

type Report struct {
	Devices       []DeviceAttendance `json:"devices"`
	Announcements []string           `json:"announcements"`
}

type groupKey struct {
	deviceID int64
	userID   int64
}

type announcement struct {
	exitTS int64
	text   string
}

// Reconstruct builds per-user attendance sessions from a record set.
// deviceNames supplies display names for announcements; unknown devices fall
// back to "Device <id>". Records are grouped by (device, user), sorted by
// time (stable, ties keep input order), paired greedily and merged across
// sub-minute gaps. The report also carries the 10 most recent exit
// announcements in chronological order.
func Reconstruct(records []Record, deviceNames map[int64]string) Report {
	groups := make(map[groupKey][]Record)
	for _, r := range records {
		key := groupKey{deviceID: r.DeviceID, userID: r.UserID}
		groups[key] = append(groups[key], r)
	}

	keys := make([]groupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].deviceID != keys[j].deviceID {
			return keys[i].deviceID < keys[j].deviceID
		}
		return keys[i].userID < keys[j].userID
	})

	var announcements []announcement
	devices := make([]DeviceAttendance, 0)

	for _, key := range keys {
		name, ok := deviceNames[key.deviceID]
		if !ok {
			name = fmt.Sprintf("Device %d", key.deviceID)
		}

		events := groups[key]
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].Time < events[j].Time
		})

		sessions := pairSessions(events)
		for _, s := range sessions {
			if s.ExitTS == nil {
				continue
			}
			announcements = append(announcements, announcement{
				exitTS: *s.ExitTS,
				text:   fmt.Sprintf("User %d left at %s from device %s", key.userID, formatTime(*s.ExitTS), name),
			})
		}
		sessions = mergeSessions(sessions)

		if len(devices) == 0 || devices[len(devices)-1].DeviceID != key.deviceID {
			devices = append(devices, DeviceAttendance{DeviceID: key.deviceID, Name: name})
		}
		dev := &devices[len(devices)-1]
		dev.Users = append(dev.Users, UserAttendance{UserID: key.userID, Sessions: sessions})
	}

	return Report{
		Devices:       devices,
		Announcements: lastAnnouncements(announcements, 10),
	}
}

// pairSessions walks time-ordered events two at a time: even index opens,
// odd index closes. A trailing event yields an open session.
func pairSessions(events []Record) []Session {
	var sessions []Session
	for i := 0; i < len(events); {
		entry := events[i].Time
		if i+1 < len(events) {
			exit := events[i+1].Time
			sessions = append(sessions, closedSession(entry, exit))
			i += 2
		} else {
			sessions = append(sessions, Session{
				EntryTS: entry,
				Entry:   formatTime(entry),
				Exit:    InProgress,
			})
			i++
		}
	}
	return sessions
}

// mergeSessions folds a closed session into its predecessor when the gap is
// under MergeGap seconds, extending the predecessor's exit and duration.
func mergeSessions(sessions []Session) []Session {
	var merged []Session
	for _, s := range sessions {
		if s.ExitTS == nil {
			merged = append(merged, s)
			continue
		}
		last := len(merged) - 1
		if last < 0 || merged[last].ExitTS == nil || s.EntryTS-*merged[last].ExitTS >= MergeGap {
			merged = append(merged, s)
			continue
		}
		merged[last] = closedSession(merged[last].EntryTS, *s.ExitTS)
	}
	return merged
}

func closedSession(entry, exit int64) Session {
	hours := roundHours(exit - entry)
	return Session{
		EntryTS:    entry,
		ExitTS:     &exit,
		Entry:      formatTime(entry),
		Exit:       formatTime(exit),
		TotalHours: &hours,
	}
}

// Duration in hours, rounded to 2 decimal places.
func roundHours(seconds int64) float64 {
	return math.Round(float64(seconds)/3600*100) / 100
}

func formatTime(ts int64) string {
	return time.Unix(ts, 0).Format(timeLayout)
}

// lastAnnouncements returns the n most recent announcements in chronological
// order.
func lastAnnouncements(all []announcement, n int) []string {
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].exitTS < all[j].exitTS
	})
	if len(all) > n {
		all = all[len(all)-n:]
	}
	out := make([]string, 0, len(all))
	for _, a := range all {
		out = append(out, a.text)
	}
	return out
}
