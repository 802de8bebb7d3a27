// ABOUTME: Bounded history of sent audio packets
// ABOUTME: Answers resend requests by wire sequence number
package airtunes

// History keeps the most recent packets in insertion order. Sequence numbers
// are not unique keys: after wraparound several entries may share one, and
// lookups return the newest.
type History struct {
	entries []historyEntry
	start   int
	count   int
}

type historyEntry struct {
	seq    uint16
	packet []byte
}

// NewHistory creates a history holding at most size packets
func NewHistory(size int) *History {
	if size < 1 {
		size = DefaultHistorySize
	}
	return &History{entries: make([]historyEntry, size)}
}

// Add appends a packet, evicting the oldest once full
func (h *History) Add(seq uint16, packet []byte) {
	e := historyEntry{seq: seq, packet: packet}
	if h.count < len(h.entries) {
		h.entries[(h.start+h.count)%len(h.entries)] = e
		h.count++
		return
	}
	h.entries[h.start] = e
	h.start = (h.start + 1) % len(h.entries)
}

// GetLatestNamed scans newest to oldest for seq
func (h *History) GetLatestNamed(seq uint16) ([]byte, bool) {
	for i := h.count - 1; i >= 0; i-- {
		e := h.entries[(h.start+i)%len(h.entries)]
		if e.seq == seq {
			return e.packet, true
		}
	}
	return nil, false
}

// Len returns the number of stored packets
func (h *History) Len() int {
	return h.count
}

// Cap returns the capacity fixed at construction
func (h *History) Cap() int {
	return len(h.entries)
}

// Sequences lists stored sequence numbers oldest first
func (h *History) Sequences() []uint16 {
	seqs := make([]uint16, h.count)
	for i := range seqs {
		seqs[i] = h.entries[(h.start+i)%len(h.entries)].seq
	}
	return seqs
}
