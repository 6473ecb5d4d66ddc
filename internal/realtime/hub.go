package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Subscriber is one live connection listening on a page.
type Subscriber interface {
	ID() string
	// SenderID identifies the client behind the connection. Envelopes whose
	// SenderID matches are not sent back to it.
	SenderID() string
	// Send queues a frame without blocking and reports whether it was queued.
	Send(frame []byte) bool
}

// Broadcaster publishes an envelope on its page channel.
type Broadcaster interface {
	Publish(ctx context.Context, env Envelope) error
}

// Hub owns the subscriber registry and delivers envelopes to it.
//
// Registry reads happen on every delivery and writes only on connect and
// disconnect, so the registry sits behind a RWMutex. Ordering state lives
// apart from it under its own lock.
type Hub struct {
	mu    sync.RWMutex
	pages map[uint64]map[string]Subscriber

	seqMu      sync.Mutex
	sequencers map[uint64]*sequencer
	gapTimeout time.Duration
}

// sequencer restores commit order for one page. Envelopes may reach the hub
// out of order because publishing runs on a worker pool and, across
// instances, through redis.
type sequencer struct {
	last    uint64
	pending map[uint64]Envelope
	timer   *time.Timer
}

func NewHub(gapTimeout time.Duration) *Hub {
	if gapTimeout <= 0 {
		gapTimeout = 500 * time.Millisecond
	}
	return &Hub{
		pages:      make(map[uint64]map[string]Subscriber),
		sequencers: make(map[uint64]*sequencer),
		gapTimeout: gapTimeout,
	}
}

// Subscribe registers sub on the page. revision is the page revision the
// subscriber loaded; it seeds the ordering state when sub is the page's first
// subscriber.
func (h *Hub) Subscribe(pageID uint64, sub Subscriber, revision uint64) {
	h.seqMu.Lock()
	if _, ok := h.sequencers[pageID]; !ok {
		h.sequencers[pageID] = &sequencer{last: revision, pending: make(map[uint64]Envelope)}
	}
	h.seqMu.Unlock()

	h.mu.Lock()
	subs, ok := h.pages[pageID]
	if !ok {
		subs = make(map[string]Subscriber)
		h.pages[pageID] = subs
	}
	subs[sub.ID()] = sub
	h.mu.Unlock()

	log.Debug().Uint64("page_id", pageID).Str("socket_id", sub.ID()).Msg("subscribed")
}

// Unsubscribe removes the subscriber. Unknown ids are ignored.
func (h *Hub) Unsubscribe(pageID uint64, socketID string) {
	h.mu.Lock()
	subs := h.pages[pageID]
	delete(subs, socketID)
	empty := len(subs) == 0
	if empty {
		delete(h.pages, pageID)
	}
	h.mu.Unlock()

	if empty {
		h.seqMu.Lock()
		if seq, ok := h.sequencers[pageID]; ok {
			if seq.timer != nil {
				seq.timer.Stop()
			}
			delete(h.sequencers, pageID)
		}
		h.seqMu.Unlock()
	}
	log.Debug().Uint64("page_id", pageID).Str("socket_id", socketID).Msg("unsubscribed")
}

// Subscribers returns the number of live subscribers on the page.
func (h *Hub) Subscribers(pageID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.pages[pageID])
}

// Publish delivers env to this process's subscribers. It never fails.
func (h *Hub) Publish(_ context.Context, env Envelope) error {
	h.Deliver(env)
	return nil
}

// Deliver hands env to the page's subscribers in revision order. Envelopes
// without a revision skip ordering. Revisions already delivered are dropped;
// revisions past a gap wait for the gap to fill, at most gapTimeout.
func (h *Hub) Deliver(env Envelope) {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()

	seq, ok := h.sequencers[env.PageID]
	if !ok {
		// nobody listening on this instance
		return
	}
	if env.Revision == 0 {
		h.fanOut(env)
		return
	}
	if env.Revision <= seq.last {
		log.Debug().Uint64("page_id", env.PageID).Uint64("revision", env.Revision).Msg("duplicate envelope dropped")
		return
	}
	seq.pending[env.Revision] = env
	h.drain(env.PageID, seq)
}

// drain delivers every pending envelope that directly follows the last
// delivered one and arms the gap timer if anything is left waiting.
// Caller holds seqMu.
func (h *Hub) drain(pageID uint64, seq *sequencer) {
	for {
		next, ok := seq.pending[seq.last+1]
		if !ok {
			break
		}
		delete(seq.pending, seq.last+1)
		seq.last++
		h.fanOut(next)
	}

	if len(seq.pending) == 0 {
		if seq.timer != nil {
			seq.timer.Stop()
			seq.timer = nil
		}
		return
	}
	if seq.timer == nil {
		seq.timer = time.AfterFunc(h.gapTimeout, func() { h.skipGap(pageID, seq) })
	}
}

// skipGap gives up on the missing revisions and resumes at the oldest
// pending one.
func (h *Hub) skipGap(pageID uint64, seq *sequencer) {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()

	if h.sequencers[pageID] != seq {
		return
	}
	seq.timer = nil
	if len(seq.pending) == 0 {
		return
	}
	revisions := make([]uint64, 0, len(seq.pending))
	for rev := range seq.pending {
		revisions = append(revisions, rev)
	}
	sort.Slice(revisions, func(i, j int) bool { return revisions[i] < revisions[j] })

	log.Warn().
		Uint64("page_id", pageID).
		Uint64("from", seq.last+1).
		Uint64("to", revisions[0]-1).
		Msg("revision gap skipped")
	seq.last = revisions[0] - 1
	h.drain(pageID, seq)
}

// fanOut sends env to every subscriber of its page except the sender's own.
func (h *Hub) fanOut(env Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		log.Warn().Err(err).Uint64("page_id", env.PageID).Msg("envelope encode failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.pages[env.PageID] {
		if env.SenderID != "" && sub.SenderID() == env.SenderID {
			continue
		}
		if !sub.Send(frame) {
			log.Warn().
				Uint64("page_id", env.PageID).
				Str("socket_id", sub.ID()).
				Str("type", string(env.Type)).
				Msg("frame dropped")
		}
	}
}
