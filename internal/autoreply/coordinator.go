// Package autoreply decides whether an inbound direct message should
// produce a simulated reply from the recipient's trained style twin, and
// synthesizes that reply through the normal send path. Every external
// failure is swallowed: a broken generator never surfaces to clients.
package autoreply

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/DEcyberhawk/whisspra-backend/internal/chat"
	"github.com/DEcyberhawk/whisspra-backend/internal/metrics"
	"github.com/DEcyberhawk/whisspra-backend/internal/presence"
	"github.com/DEcyberhawk/whisspra-backend/internal/users"
)

// HistoryEntry is one line of recent conversation context handed to the
// generator, already resolved to a display name.
type HistoryEntry struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Generator is the external text-generation capability: given a user's
// style profile and recent history, produce the reply text.
type Generator interface {
	Generate(ctx context.Context, styleProfile string, history []HistoryEntry) (string, error)
}

// Sender routes a synthesized reply through the same persist-and-broadcast
// path as a normal send. The dispatcher implements it.
type Sender interface {
	SendAs(ctx context.Context, conversationID, senderID, content string) error
}

// PresenceReader reads a user's current presence status. The presence store
// implements it.
type PresenceReader interface {
	Status(ctx context.Context, userID string) (string, error)
}

// historyLimit is how many recent messages feed the generator.
const historyLimit = 10

// Coordinator evaluates auto-reply triggers and produces at most one reply
// per triggering inbound message.
type Coordinator struct {
	store     chat.Store
	directory users.Directory
	presence  PresenceReader
	generator Generator
	sender    Sender
	timeout   time.Duration

	mu    sync.Mutex
	fired map[string]time.Time // triggering message ID -> claim time
}

// NewCoordinator returns a Coordinator. timeout bounds one generation call.
func NewCoordinator(store chat.Store, directory users.Directory, pres PresenceReader, generator Generator, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Coordinator{
		store:     store,
		directory: directory,
		presence:  pres,
		generator: generator,
		timeout:   timeout,
		fired:     make(map[string]time.Time),
	}
}

// SetSender installs the send path. The dispatcher is constructed after the
// coordinator, so this mirrors the dispatcher/server wiring pattern.
func (c *Coordinator) SetSender(s Sender) {
	c.sender = s
}

// Maybe evaluates the trigger conditions for an inbound message and, when
// all hold, generates and sends the recipient's twin reply. It is
// synchronous; the dispatcher schedules it on its own goroutine. Calling it
// again for the same triggering message is a no-op.
func (c *Coordinator) Maybe(conv *chat.Conversation, trigger *chat.Message) {
	// Twin messages never trigger twins, or two absent users would chat
	// with each other forever.
	if trigger.IsTwinMessage {
		return
	}
	if !conv.IsDirect() {
		metrics.AutoRepliesTotal.WithLabelValues("skipped").Inc()
		return
	}
	recipient := conv.Recipient(trigger.SenderID)
	if recipient == "" {
		metrics.AutoRepliesTotal.WithLabelValues("skipped").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	user, err := c.directory.ByID(ctx, recipient)
	if err != nil {
		log.Printf("[autoreply] recipient lookup user=%s: %v", recipient, err)
		metrics.AutoRepliesTotal.WithLabelValues("failed").Inc()
		return
	}
	if !user.AutoReplyEnabled || !user.HasStyleProfile() {
		metrics.AutoRepliesTotal.WithLabelValues("skipped").Inc()
		return
	}

	status, err := c.presence.Status(ctx, recipient)
	if err != nil {
		log.Printf("[autoreply] presence lookup user=%s: %v", recipient, err)
		metrics.AutoRepliesTotal.WithLabelValues("failed").Inc()
		return
	}
	if status != presence.StatusAway && status != presence.StatusBusy {
		metrics.AutoRepliesTotal.WithLabelValues("skipped").Inc()
		return
	}

	// All conditions hold: claim the triggering message so a retried
	// evaluation cannot double-fire.
	if !c.claim(trigger.ID) {
		return
	}

	history, err := c.buildHistory(ctx, conv.ID)
	if err != nil {
		log.Printf("[autoreply] history conversation=%s: %v", conv.ID, err)
		metrics.AutoRepliesTotal.WithLabelValues("failed").Inc()
		return
	}

	text, err := c.generator.Generate(ctx, user.StyleProfile, history)
	if err != nil || text == "" {
		if err != nil {
			log.Printf("[autoreply] generation failed user=%s: %v", recipient, err)
		}
		metrics.AutoRepliesTotal.WithLabelValues("failed").Inc()
		return
	}

	if err := c.sender.SendAs(ctx, conv.ID, recipient, text); err != nil {
		log.Printf("[autoreply] send failed conversation=%s user=%s: %v", conv.ID, recipient, err)
		metrics.AutoRepliesTotal.WithLabelValues("failed").Inc()
		return
	}
	metrics.AutoRepliesTotal.WithLabelValues("sent").Inc()
}

// claim marks the triggering message as handled. Returns false if a reply
// for it was already claimed. Stale claims are pruned in passing so the map
// does not grow without bound.
func (c *Coordinator) claim(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if len(c.fired) > 1024 {
		for id, at := range c.fired {
			if now.Sub(at) > 10*time.Minute {
				delete(c.fired, id)
			}
		}
	}

	if _, done := c.fired[messageID]; done {
		return false
	}
	c.fired[messageID] = now
	return true
}

// buildHistory loads the recent conversation tail and resolves sender names
// for the generator prompt.
func (c *Coordinator) buildHistory(ctx context.Context, conversationID string) ([]HistoryEntry, error) {
	msgs, err := c.store.RecentMessages(ctx, conversationID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("autoreply: recent messages: %w", err)
	}

	names := make(map[string]string)
	out := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		name, ok := names[m.SenderID]
		if !ok {
			u, err := c.directory.ByID(ctx, m.SenderID)
			if err != nil {
				name = m.SenderID
			} else {
				name = u.Name
			}
			names[m.SenderID] = name
		}
		out = append(out, HistoryEntry{Name: name, Content: m.Content})
	}
	return out, nil
}
