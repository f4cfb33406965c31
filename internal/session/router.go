package session

// routeDecision says what to do with one inbound message event.
type routeDecision int

const (
	routeAppend routeDecision = iota // belongs to the active conversation
	routeFile                        // file as unread for its conversation
	routeDrop                        // self-originated, non-active: never shown
)

// route classifies an inbound event against the active conversation.
// Events for the open conversation never touch the ledger, and a user's own
// messages (arriving from another device) never inflate their own unread
// counters.
func route(event Handle, active *Handle, isSelf bool) routeDecision {
	if active != nil && event == *active {
		return routeAppend
	}
	if !isSelf {
		return routeFile
	}
	return routeDrop
}

// ledger tracks per-conversation unread counters. Entries are created
// lazily on the first filed event and zeroed, not deleted, on activation.
type ledger map[Handle]int

func (l ledger) file(h Handle) { l[h]++ }

// clear zeroes the counter for h, creating the entry if absent so the
// invariant "active conversation has unread 0" is visible in snapshots.
func (l ledger) clear(h Handle) { l[h] = 0 }

func (l ledger) snapshot() map[Handle]int {
	out := make(map[Handle]int, len(l))
	for h, n := range l {
		out[h] = n
	}
	return out
}
