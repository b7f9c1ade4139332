package bus

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/delphibot/internal/types"
)

const (
	subscriberBufSize = 64
	tapBufSize        = 256
)

// Bus is the observable progress bus. Every study event passes through it.
// The display receives a read-only tap channel for every message published.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[types.MessageType][]chan types.Message
	tapCh       chan types.Message
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[types.MessageType][]chan types.Message),
		tapCh:       make(chan types.Message, tapBufSize),
	}
}

// Publish fans out msg to all subscribers of msg.Type and to the tap channel.
// Non-blocking: if a subscriber's channel is full, the message is dropped with a warning.
// A nil *Bus discards the message.
func (b *Bus) Publish(msg types.Message) {
	if b == nil {
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := b.subscribers[msg.Type]
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			log.Printf("[BUS] WARNING: subscriber channel full for type=%s from=%s, message dropped", msg.Type, msg.From)
		}
	}

	// Non-blocking so a slow display never stalls a study run.
	select {
	case b.tapCh <- msg:
	default:
		log.Printf("[BUS] WARNING: tap channel full, display message dropped type=%s", msg.Type)
	}
}

// Emit builds and publishes a message in one call.
func (b *Bus) Emit(from, to types.Role, t types.MessageType, payload any) {
	b.Publish(types.Message{From: from, To: to, Type: t, Payload: payload})
}

// Subscribe returns a receive-only channel that delivers messages of type t.
// Each call creates a new independent subscriber channel.
func (b *Bus) Subscribe(t types.MessageType) <-chan types.Message {
	ch := make(chan types.Message, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[t] = append(b.subscribers[t], ch)
	b.mu.Unlock()
	return ch
}

// Tap returns the read-only tap channel for the display.
// Only one consumer should call this; calling it multiple times returns the same channel.
func (b *Bus) Tap() <-chan types.Message {
	return b.tapCh
}
