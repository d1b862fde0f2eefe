package call

import "github.com/pion/webrtc/v4"

// candidateBuffer holds remote candidates until a remote description exists. When full
// the oldest candidate is dropped.
type candidateBuffer struct {
	max   int
	items []webrtc.ICECandidateInit
}

func newCandidateBuffer(max int) *candidateBuffer {
	return &candidateBuffer{max: max}
}

// Push appends c and reports whether an older candidate was dropped to make room.
func (b *candidateBuffer) Push(c webrtc.ICECandidateInit) bool {
	dropped := false
	if len(b.items) >= b.max {
		b.items = b.items[1:]
		dropped = true
	}
	b.items = append(b.items, c)
	return dropped
}

// Drain empties the buffer and returns its contents in arrival order.
func (b *candidateBuffer) Drain() []webrtc.ICECandidateInit {
	items := b.items
	b.items = nil
	return items
}

func (b *candidateBuffer) Len() int { return len(b.items) }
