// Package safety coordinates the asynchronous content scan of a message:
// one classification call per qualifying message, exactly one application of
// the verdict, and a room update event on success. The classifier itself is
// an external capability behind the Classifier interface.
package safety

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/DEcyberhawk/whisspra-backend/internal/chat"
	"github.com/DEcyberhawk/whisspra-backend/internal/hub"
	"github.com/DEcyberhawk/whisspra-backend/internal/metrics"
	"github.com/DEcyberhawk/whisspra-backend/internal/protocol"
)

// Request is the classification request shape.
type Request struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"` // "text" or "image"
}

// Result is the classifier's reply.
type Result struct {
	Flagged  bool   `json:"flagged"`
	Category string `json:"category,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Classifier is the external content classification capability.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Result, error)
}

// Coordinator drives the pending -> {safe, warning} transition of a
// message's safety state. Safe for concurrent use across messages; at most
// one scan is in flight per message ID.
type Coordinator struct {
	store      chat.Store
	classifier Classifier
	bcast      hub.Broadcaster
	timeout    time.Duration

	mu       sync.Mutex
	inflight map[string]struct{} // message IDs with a scan in flight
}

// NewCoordinator returns a Coordinator with the given collaborators.
// timeout bounds one classification call.
func NewCoordinator(store chat.Store, classifier Classifier, bcast hub.Broadcaster, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Coordinator{
		store:      store,
		classifier: classifier,
		bcast:      bcast,
		timeout:    timeout,
		inflight:   make(map[string]struct{}),
	}
}

// Scan classifies the message and applies the terminal verdict. It is
// synchronous; the dispatcher schedules it on its own goroutine. A second
// Scan for a message already being scanned returns immediately, and a scan
// for a message whose verdict already landed changes nothing: the store
// applies the transition only while the message is still pending.
//
// Classifier failures fail open: the message is marked safe, the failure is
// logged, and no warning event reaches the room.
func (c *Coordinator) Scan(msg *chat.Message) {
	c.mu.Lock()
	if _, busy := c.inflight[msg.ID]; busy {
		c.mu.Unlock()
		return
	}
	c.inflight[msg.ID] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, msg.ID)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	contentType := "text"
	if msg.Type == chat.TypeImage {
		contentType = "image"
	}

	result, err := c.classifier.Classify(ctx, Request{
		Content:     msg.Content,
		ContentType: contentType,
	})

	var analysis chat.SafetyAnalysis
	scanFailed := err != nil
	if scanFailed {
		log.Printf("[safety] scan failed message=%s: %v (defaulting to safe)", msg.ID, err)
		analysis = chat.SafetyAnalysis{Status: chat.SafetySafe}
	} else if result.Flagged {
		analysis = chat.SafetyAnalysis{
			Status: chat.SafetyWarning,
			Type:   result.Category,
			Reason: result.Reason,
		}
	} else {
		analysis = chat.SafetyAnalysis{Status: chat.SafetySafe}
	}

	applied, err := c.store.SetSafetyAnalysis(context.Background(), msg.ID, analysis)
	if err != nil {
		log.Printf("[safety] store update failed message=%s: %v", msg.ID, err)
		return
	}
	if !applied {
		// Another scan already landed the verdict.
		return
	}

	metrics.SafetyScansTotal.WithLabelValues(analysis.Status).Inc()

	if scanFailed {
		// The failure stays out of the client-visible path.
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeMessageSafetyUpdate, protocol.MessageSafetyUpdateMsg{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SafetyAnalysis: analysis,
	})
	if err != nil {
		log.Printf("[safety] build update event message=%s: %v", msg.ID, err)
		return
	}
	c.bcast.Broadcast(msg.ConversationID, data)
}
