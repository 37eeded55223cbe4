// Package dispatch implements the message send pipeline: validate, persist,
// broadcast, then hand off to the safety and auto-reply coordinators. Each
// conversation is serialized so that the broadcast order seen by room
// subscribers always matches persistence order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/DEcyberhawk/whisspra-backend/internal/chat"
	"github.com/DEcyberhawk/whisspra-backend/internal/hub"
	"github.com/DEcyberhawk/whisspra-backend/internal/metrics"
	"github.com/DEcyberhawk/whisspra-backend/internal/protocol"
	"github.com/DEcyberhawk/whisspra-backend/internal/users"
)

var (
	// ErrNotParticipant is returned when the acting user is not a member of
	// the target conversation. Membership checks fail closed.
	ErrNotParticipant = errors.New("dispatch: user is not a conversation participant")

	// ErrInvalidStatus is returned for a delivery-status advance to a status
	// that clients may not request.
	ErrInvalidStatus = errors.New("dispatch: invalid target delivery status")
)

// Intent is one not-yet-validated send request.
type Intent struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           chat.MessageType
	Duration       int
	FileName       string
	FileSize       int64
	ReleaseAt      *time.Time
}

// ScanScheduler starts a safety scan for a persisted pending message.
type ScanScheduler interface {
	Scan(msg *chat.Message)
}

// ReplyScheduler evaluates the auto-reply trigger for a persisted message.
type ReplyScheduler interface {
	Maybe(conv *chat.Conversation, trigger *chat.Message)
}

// Dispatcher runs the send pipeline and the bulk delivery-status advances.
// It also acts as the auto-reply coordinator's outbound sender, so twin
// replies travel the exact same persist-and-broadcast path as user messages.
type Dispatcher struct {
	store     chat.Store
	directory users.Directory
	bcast     hub.Broadcaster
	safety    ScanScheduler
	autoreply ReplyScheduler
	locks     *convLocks
}

// New creates a Dispatcher. The safety and auto-reply coordinators are wired
// afterwards via SetSafety and SetAutoReply to break the construction cycle
// with the coordinators that call back into the dispatcher.
func New(store chat.Store, directory users.Directory, bcast hub.Broadcaster) *Dispatcher {
	return &Dispatcher{
		store:     store,
		directory: directory,
		bcast:     bcast,
		locks:     newConvLocks(),
	}
}

// SetSafety wires the safety scan coordinator.
func (d *Dispatcher) SetSafety(s ScanScheduler) {
	d.safety = s
}

// SetAutoReply wires the auto-reply coordinator.
func (d *Dispatcher) SetAutoReply(r ReplyScheduler) {
	d.autoreply = r
}

// Send processes one user send intent end to end and returns the persisted
// message. Validation failures and membership failures reject the intent
// before anything is written.
func (d *Dispatcher) Send(ctx context.Context, in Intent) (*chat.Message, error) {
	return d.send(ctx, in, false)
}

// SendAs sends a plain text message authored by senderID on behalf of the
// auto-reply coordinator. Twin messages are created already safe and are
// never scanned or re-triggered.
func (d *Dispatcher) SendAs(ctx context.Context, conversationID, senderID, content string) error {
	_, err := d.send(ctx, Intent{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           chat.TypeText,
	}, true)
	return err
}

func (d *Dispatcher) send(ctx context.Context, in Intent, twin bool) (*chat.Message, error) {
	start := time.Now()

	if !chat.ValidType(in.Type) {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("dispatch: unsupported message type %q", in.Type)
	}
	if err := chat.ValidateContent(in.Type, in.Content); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	conv, err := d.store.Conversation(ctx, in.ConversationID)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("dispatch: load conversation %s: %w", in.ConversationID, err)
	}
	if !conv.HasParticipant(in.SenderID) {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, ErrNotParticipant
	}

	m := &chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Type:           in.Type,
		Duration:       in.Duration,
		FileName:       in.FileName,
		FileSize:       in.FileSize,
		ReleaseAt:      in.ReleaseAt,
		DeliveryStatus: chat.StatusSent,
		SafetyAnalysis: chat.InitialSafety(in.Type, in.Content),
		IsTwinMessage:  twin,
	}
	if twin {
		// Generated replies are trusted output, not user content.
		m.SafetyAnalysis = chat.SafetyAnalysis{Status: chat.SafetySafe}
	}

	d.locks.lock(conv.ID)
	// Timestamp under the lock so creation time agrees with broadcast order.
	m.CreatedAt = time.Now().UTC()
	if err := d.store.CreateMessage(ctx, m); err != nil {
		d.locks.unlock(conv.ID)
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("dispatch: persist message: %w", err)
	}
	if err := d.store.SetLastMessage(ctx, conv.ID, m.ID); err != nil {
		// The message itself is durable; the pointer catches up on the next send.
		log.Printf("dispatch: update last message for %s: %v", conv.ID, err)
	}

	payload := protocol.NewMessageMsg{Message: *m, Sender: d.resolveSender(ctx, in.SenderID)}
	if data, err := protocol.NewServerMessage(protocol.TypeNewMessage, payload); err != nil {
		log.Printf("dispatch: encode newMessage for %s: %v", m.ID, err)
	} else {
		d.bcast.Broadcast(conv.ID, data)
	}
	d.locks.unlock(conv.ID)

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	metrics.DispatchLatency.Observe(time.Since(start).Seconds())

	if d.safety != nil && m.SafetyAnalysis.Status == chat.SafetyPending {
		scanCopy := *m
		go d.safety.Scan(&scanCopy)
	}
	if d.autoreply != nil && !twin {
		trigCopy := *m
		go d.autoreply.Maybe(conv, &trigCopy)
	}

	return m, nil
}

// Advance moves every message in the conversation not sent by userID forward
// to target (glimpsed or read) and broadcasts one status update naming the
// messages that actually moved. Re-acknowledging is a no-op, not an error.
func (d *Dispatcher) Advance(ctx context.Context, conversationID, userID string, target chat.DeliveryStatus) (int, error) {
	switch target {
	case chat.StatusDelivered, chat.StatusGlimpsed, chat.StatusRead:
	default:
		return 0, ErrInvalidStatus
	}

	conv, err := d.store.Conversation(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("dispatch: load conversation %s: %w", conversationID, err)
	}
	if !conv.HasParticipant(userID) {
		return 0, ErrNotParticipant
	}

	d.locks.lock(conv.ID)
	defer d.locks.unlock(conv.ID)

	ids, err := d.store.AdvanceStatus(ctx, conv.ID, userID, target)
	if err != nil {
		return 0, fmt.Errorf("dispatch: advance status: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	payload := protocol.MessageStatusUpdateMsg{
		ConversationID: conv.ID,
		Status:         string(target),
		MessageIDs:     ids,
		UserID:         userID,
	}
	if data, err := protocol.NewServerMessage(protocol.TypeMessageStatusUpdate, payload); err != nil {
		log.Printf("dispatch: encode messageStatusUpdate for %s: %v", conv.ID, err)
	} else {
		d.bcast.Broadcast(conv.ID, data)
	}

	metrics.StatusAdvancesTotal.WithLabelValues(string(target)).Add(float64(len(ids)))
	return len(ids), nil
}

func (d *Dispatcher) resolveSender(ctx context.Context, userID string) protocol.Sender {
	u, err := d.directory.ByID(ctx, userID)
	if err != nil {
		// Display identity is best effort; the ID alone is enough for clients.
		return protocol.Sender{ID: userID, Name: userID}
	}
	return protocol.Sender{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}
