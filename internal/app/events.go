package app

import (
	"sync"

	"arena-service/internal/domain"
)

// EventType tags the contest lifecycle notifications pushed to subscribers.
type EventType string

const (
	EventSessionStarted  EventType = "session_started"
	EventSessionClosed   EventType = "session_closed"
	EventSessionRevealed EventType = "session_revealed"
	EventLevelUp         EventType = "level_up"
)

// Event is one contest lifecycle notification for a channel.
type Event struct {
	Type      EventType          `json:"type"`
	GuildID   string             `json:"guildId"`
	ChannelID string             `json:"channelId"`
	SessionID string             `json:"sessionId"`
	Kind      domain.Kind        `json:"kind,omitempty"`
	Reason    domain.CloseReason `json:"reason,omitempty"`
	UserID    string             `json:"userId,omitempty"`
	Level     int                `json:"level,omitempty"`
	Summary   *domain.Summary    `json:"summary,omitempty"`
}

// Broadcaster fans contest events out to per-channel subscribers. Sends
// never block: when a subscriber's buffer is full the oldest pending event
// is dropped so one slow reader cannot stall the lifecycle.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe registers for events in one channel. The caller must invoke the
// returned cancel function to avoid leaks.
func (b *Broadcaster) Subscribe(guildID, channelID string) (<-chan Event, func()) {
	key := guildID + "/" + channelID
	ch := make(chan Event, 16)

	b.mu.Lock()
	if b.subs[key] == nil {
		b.subs[key] = make(map[chan Event]struct{})
	}
	b.subs[key][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[key]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, key)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of its channel.
func (b *Broadcaster) Publish(event Event) {
	if b == nil {
		return
	}
	key := event.GuildID + "/" + event.ChannelID

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[key] {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}
