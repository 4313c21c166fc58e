package chat

import (
	"context"
	"log/slog"
	"sync"
)

// subscriberBuffer bounds how far a slow subscriber may lag. A subscriber
// whose buffer overflows is disconnected; the persisted transcript remains
// the durable source of truth, so dropping a laggard loses nothing.
const subscriberBuffer = 256

// Broker multiplexes one in-flight generation per chat to any number of
// subscribers. Events get their sequence numbers here; delivery to each
// subscriber is in order, forward-only from the moment of subscription.
type Broker struct {
	mu      sync.Mutex
	streams map[string]*liveStream
	byChat  map[string]string
}

type liveStream struct {
	id     string
	chatID string
	cancel context.CancelFunc

	mu   sync.Mutex
	seq  int64
	subs map[chan Event]struct{}
	done bool
}

func NewBroker() *Broker {
	return &Broker{
		streams: make(map[string]*liveStream),
		byChat:  make(map[string]string),
	}
}

// Open registers a new live stream for a chat. A chat with a generation
// already in flight cannot open a second one.
func (b *Broker) Open(streamID, chatID string, cancel context.CancelFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, busy := b.byChat[chatID]; busy {
		return ErrChatBusy
	}
	b.streams[streamID] = &liveStream{
		id:     streamID,
		chatID: chatID,
		cancel: cancel,
		subs:   make(map[chan Event]struct{}),
	}
	b.byChat[chatID] = streamID
	return nil
}

// Publish assigns the next sequence number and fans the event out. Returns
// false when the stream is already closed.
func (b *Broker) Publish(streamID string, ev Event) bool {
	b.mu.Lock()
	s := b.streams[streamID]
	b.mu.Unlock()
	if s == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.seq++
	ev.Seq = s.seq

	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Buffer full: the subscriber is too slow to keep ordering
			// guarantees, so cut it loose rather than drop one event.
			delete(s.subs, ch)
			close(ch)
			slog.Warn("dropped slow stream subscriber", "stream_id", s.id, "chat_id", s.chatID, "seq", ev.Seq)
		}
	}
	return true
}

// Subscribe attaches to a live stream. The returned cancel func must be
// called when the subscriber goes away. Returns ErrNoActiveStream when the
// stream is unknown or already finished.
func (b *Broker) Subscribe(streamID string) (<-chan Event, func(), error) {
	b.mu.Lock()
	s := b.streams[streamID]
	b.mu.Unlock()
	if s == nil {
		return nil, nil, ErrNoActiveStream
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, nil, ErrNoActiveStream
	}

	ch := make(chan Event, subscriberBuffer)
	s.subs[ch] = struct{}{}

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
	return ch, unsubscribe, nil
}

// ActiveStreamID returns the live stream for a chat, if any.
func (b *Broker) ActiveStreamID(chatID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byChat[chatID]
	return id, ok
}

// Cancel requests upstream cancellation of a live stream.
func (b *Broker) Cancel(streamID string) bool {
	b.mu.Lock()
	s := b.streams[streamID]
	b.mu.Unlock()
	if s == nil {
		return false
	}
	s.cancel()
	return true
}

// Close ends a stream: remaining subscribers' channels are closed after any
// already-published events drain, and the chat becomes free for a new turn.
func (b *Broker) Close(streamID string) {
	b.mu.Lock()
	s := b.streams[streamID]
	if s != nil {
		delete(b.streams, streamID)
		delete(b.byChat, s.chatID)
	}
	b.mu.Unlock()
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}
