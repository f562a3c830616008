package chatsession

import (
	"sort"

	"github.com/go-go-golems/docchat/pkg/chatapi"
)

// Origin tells where a transcript entry came from.
type Origin string

const (
	// OriginLocal is an optimistic echo of a send still in flight.
	OriginLocal Origin = "local"
	// OriginAnswered was acknowledged by the ask response but has no server id.
	OriginAnswered Origin = "answered"
	OriginServer   Origin = "server"
)

// Entry is one line of the visible transcript. Attempt is the send token that
// produced the entry, kept after the server confirms it.
type Entry struct {
	chatapi.Message
	Origin  Origin
	Attempt uint64
}

func (e Entry) Provisional() bool {
	return e.Origin == OriginLocal || e.Origin == OriginAnswered
}

func serverEntry(m chatapi.Message) Entry {
	return Entry{Message: m, Origin: OriginServer}
}

// upsert merges one confirmed message into entries: an entry with the same
// identity is updated in place, otherwise the first provisional entry with the
// same role and content is confirmed in place, otherwise the message is
// inserted. live is set for messages pushed one at a time as they are posted,
// and unset for pages of history.
func upsert(entries []Entry, m chatapi.Message, live bool) ([]Entry, bool) {
	for i := range entries {
		if entries[i].Origin != OriginServer || !sameIdentity(entries[i].Message, m) {
			continue
		}
		if sameMessage(entries[i].Message, m) {
			return entries, false
		}
		entries[i].Message = mergeMessage(entries[i].Message, m)
		return entries, true
	}
	for i := range entries {
		e := entries[i]
		if e.Provisional() && e.Role == m.Role && e.Content == m.Content {
			entries[i] = Entry{Message: mergeMessage(e.Message, m), Origin: OriginServer, Attempt: e.Attempt}
			return entries, true
		}
	}
	i := insertAt(entries, m, live)
	entries = append(entries, Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = serverEntry(m)
	return entries, true
}

// sameIdentity matches by id, or for messages without one by role, content
// and timestamp. A missing timestamp matches any.
func sameIdentity(a, b chatapi.Message) bool {
	if b.ID != "" {
		return a.ID == b.ID
	}
	if a.ID != "" || a.Role != b.Role || a.Content != b.Content {
		return false
	}
	return a.Timestamp.IsZero() || b.Timestamp.IsZero() || a.Timestamp.Equal(b.Timestamp.Time)
}

// insertAt returns the position of a server message new to entries.
// Provisional entries stay behind the history the server already held: a page
// message goes before the first provisional entry it does not postdate, a
// live message only before one it provably predates.
func insertAt(entries []Entry, m chatapi.Message, live bool) int {
	for i, e := range entries {
		if !e.Provisional() {
			continue
		}
		if m.Timestamp.IsZero() || e.Timestamp.IsZero() {
			if live {
				continue
			}
			return i
		}
		if m.Timestamp.Before(e.Timestamp.Time) {
			return i
		}
	}
	return len(entries)
}

func sameMessage(a, b chatapi.Message) bool {
	return a.Role == b.Role && a.Content == b.Content && (b.Seq == 0 || a.Seq == b.Seq)
}

func mergeMessage(prev, next chatapi.Message) chatapi.Message {
	if next.Timestamp.IsZero() {
		next.Timestamp = prev.Timestamp
	}
	if next.Seq == 0 {
		next.Seq = prev.Seq
	}
	if next.ChatID == "" {
		next.ChatID = prev.ChatID
	}
	return next
}

// mergePage folds a message page into entries. Nothing is removed.
func mergePage(entries []Entry, page []chatapi.Message) ([]Entry, bool) {
	changed := false
	for _, m := range page {
		var c bool
		entries, c = upsert(entries, m, false)
		changed = changed || c
	}
	if orderBySeq(entries) {
		changed = true
	}
	return entries, changed
}

// orderBySeq sorts the server entries by seq within the slots they already
// occupy, when every server entry carries a seq. Provisional entries keep
// their positions.
func orderBySeq(entries []Entry) bool {
	var slots []int
	for i, e := range entries {
		if e.Origin != OriginServer {
			continue
		}
		if e.Seq == 0 {
			return false
		}
		slots = append(slots, i)
	}
	if len(slots) < 2 {
		return false
	}
	server := make([]Entry, len(slots))
	for i, idx := range slots {
		server[i] = entries[idx]
	}
	if sort.SliceIsSorted(server, func(i, j int) bool { return server[i].Seq < server[j].Seq }) {
		return false
	}
	sort.SliceStable(server, func(i, j int) bool { return server[i].Seq < server[j].Seq })
	for i, idx := range slots {
		entries[idx] = server[i]
	}
	return true
}

func confirmedCount(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if e.Origin == OriginServer {
			n++
		}
	}
	return n
}

func confirmedMessages(entries []Entry) []chatapi.Message {
	out := make([]chatapi.Message, 0, len(entries))
	for _, e := range entries {
		if e.Origin == OriginServer {
			out = append(out, e.Message)
		}
	}
	return out
}

func indexOfAttempt(entries []Entry, token uint64) int {
	for i, e := range entries {
		if e.Attempt == token && e.Role == chatapi.RoleUser {
			return i
		}
	}
	return -1
}

// hasAnswerAfter reports whether an assistant entry with content already
// follows position i.
func hasAnswerAfter(entries []Entry, i int, content string) bool {
	for _, e := range entries[i+1:] {
		if e.Role == chatapi.RoleAssistant && e.Content == content {
			return true
		}
	}
	return false
}
