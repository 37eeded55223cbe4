// Package relay bridges the in-process room fan-out and the NATS bus so a
// conversation's room spans every server node. Broadcasts go out through
// NATS; each node with local subscribers receives them back and delivers to
// its own rooms. With a single node the path is identical, just through the
// local NATS server.
package relay

import (
	"log"

	"github.com/DEcyberhawk/whisspra-backend/internal/hub"
	"github.com/DEcyberhawk/whisspra-backend/internal/messaging"
)

// Relay implements hub.Broadcaster by publishing to the conversation's NATS
// subject. It owns the per-conversation subscriptions: one is opened when a
// room gains its first local member and closed when the room empties.
type Relay struct {
	nats  *messaging.NATSClient
	rooms *hub.Rooms
}

// New wires a Relay to the given rooms and NATS client, installing the room
// lifecycle hooks. Call before any connection joins a room.
func New(nats *messaging.NATSClient, rooms *hub.Rooms) *Relay {
	r := &Relay{nats: nats, rooms: rooms}
	rooms.SetLifecycleHooks(r.roomOpened, r.roomClosed)
	return r
}

// Broadcast publishes the event to the conversation subject. Local delivery
// happens when the subscription hands the event back.
func (r *Relay) Broadcast(conversationID string, data []byte) {
	if err := r.nats.PublishConversation(conversationID, data); err != nil {
		// Degrade to local-only delivery rather than dropping the event.
		log.Printf("[relay] publish conversation=%s failed, delivering locally: %v", conversationID, err)
		r.rooms.Broadcast(conversationID, data)
	}
}

// roomOpened subscribes this node to the conversation's fan-out subject.
func (r *Relay) roomOpened(conversationID string) {
	err := r.nats.SubscribeConversation(conversationID, func(data []byte) {
		r.rooms.Broadcast(conversationID, data)
	})
	if err != nil {
		log.Printf("[relay] subscribe conversation=%s failed: %v", conversationID, err)
	}
}

// roomClosed drops the subscription once no local connection needs it.
func (r *Relay) roomClosed(conversationID string) {
	if err := r.nats.UnsubscribeConversation(conversationID); err != nil {
		log.Printf("[relay] unsubscribe conversation=%s: %v", conversationID, err)
	}
}
