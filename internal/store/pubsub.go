package store

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Message is one payload received on a channel.
type Message struct {
	Channel string
	Payload string
}

// Subscription delivers messages until closed. The channel is closed when
// the subscription ends.
type Subscription interface {
	Channel() <-chan *Message
	Close() error
}

const subscriptionBuffer = 100

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan *Message
	once sync.Once
}

func newRedisSubscription(ctx context.Context, ps *redis.PubSub) *redisSubscription {
	s := &redisSubscription{ps: ps, out: make(chan *Message, subscriptionBuffer)}
	go func() {
		defer close(s.out)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				s.Close()
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case s.out <- &Message{Channel: msg.Channel, Payload: msg.Payload}:
				default:
				}
			}
		}
	}()
	return s
}

func (s *redisSubscription) Channel() <-chan *Message { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}

// MemorySubscription is the in-process Subscription used without Redis.
type MemorySubscription struct {
	channels map[string]bool
	msgChan  chan *Message
	closeCh  chan struct{}
	closed   bool
	mu       sync.RWMutex
}

func newMemorySubscription(channels []string) *MemorySubscription {
	set := make(map[string]bool, len(channels))
	for _, ch := range channels {
		set[ch] = true
	}
	return &MemorySubscription{
		channels: set,
		msgChan:  make(chan *Message, subscriptionBuffer),
		closeCh:  make(chan struct{}),
	}
}

func (m *MemorySubscription) Channel() <-chan *Message {
	return m.msgChan
}

func (m *MemorySubscription) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.closeCh)
		close(m.msgChan)
	}
	return nil
}

// send delivers without blocking; a full buffer drops the message.
func (m *MemorySubscription) send(msg *Message) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed || !m.channels[msg.Channel] {
		return
	}
	select {
	case m.msgChan <- msg:
	default:
	}
}

// PubSubHub fans published messages out to in-process subscribers.
type PubSubHub struct {
	subscribers map[string][]*MemorySubscription
	mu          sync.RWMutex
}

func NewPubSubHub() *PubSubHub {
	return &PubSubHub{
		subscribers: make(map[string][]*MemorySubscription),
	}
}

func (h *PubSubHub) Subscribe(ctx context.Context, channels ...string) *MemorySubscription {
	sub := newMemorySubscription(channels)

	h.mu.Lock()
	for _, ch := range channels {
		h.subscribers[ch] = append(h.subscribers[ch], sub)
	}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closeCh:
		}
		h.remove(sub, channels)
	}()

	return sub
}

func (h *PubSubHub) remove(sub *MemorySubscription, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range channels {
		subs := h.subscribers[ch]
		for i, s := range subs {
			if s == sub {
				h.subscribers[ch] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(h.subscribers[ch]) == 0 {
			delete(h.subscribers, ch)
		}
	}
}

func (h *PubSubHub) Publish(channel, payload string) {
	h.mu.RLock()
	subs := make([]*MemorySubscription, len(h.subscribers[channel]))
	copy(subs, h.subscribers[channel])
	h.mu.RUnlock()

	msg := &Message{Channel: channel, Payload: payload}
	for _, sub := range subs {
		sub.send(msg)
	}
}

func (h *PubSubHub) subscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[channel])
}
