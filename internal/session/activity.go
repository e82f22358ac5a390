package session

import "time"

// MaxActivityEntries is the number of recent activity entries retained
// per session. Older entries are dropped when the cap is reached.
const MaxActivityEntries = 50

// ActivityEntry is one tracked user action within a session.
type ActivityEntry struct {
	Action    string         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ActivityStats summarizes a session's activity log.
type ActivityStats struct {
	Count   int            `json:"count"`
	Actions map[string]int `json:"actions"`
	First   *time.Time     `json:"first,omitempty"`
	Last    *time.Time     `json:"last,omitempty"`
}

// appendBounded appends entry and drops the oldest entries beyond the
// cap, keeping the newest MaxActivityEntries.
func appendBounded(entries []ActivityEntry, entry ActivityEntry) []ActivityEntry {
	entries = append(entries, entry)
	if len(entries) > MaxActivityEntries {
		entries = entries[len(entries)-MaxActivityEntries:]
	}
	return entries
}

// statsFor computes aggregate stats over an activity log.
func statsFor(entries []ActivityEntry) ActivityStats {
	stats := ActivityStats{
		Count:   len(entries),
		Actions: make(map[string]int),
	}
	if len(entries) == 0 {
		return stats
	}

	for _, e := range entries {
		stats.Actions[e.Action]++
	}
	first := entries[0].Timestamp
	last := entries[len(entries)-1].Timestamp
	stats.First = &first
	stats.Last = &last
	return stats
}
