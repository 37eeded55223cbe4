package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DEcyberhawk/whisspra-backend/internal/messaging"
)

// NATSClassifier implements Classifier over the NATS request/reply channel
// served by the scan worker.
type NATSClassifier struct {
	client *messaging.NATSClient
}

// NewNATSClassifier returns a classifier that calls out through client.
func NewNATSClassifier(client *messaging.NATSClient) *NATSClassifier {
	return &NATSClassifier{client: client}
}

// Classify sends the request to the scan worker and decodes its reply. The
// call honors the remaining time on ctx as its request timeout.
func (n *NATSClassifier) Classify(ctx context.Context, req Request) (Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("safety: marshal scan request: %w", err)
	}

	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return Result{}, context.DeadlineExceeded
	}

	reply, err := n.client.RequestSafetyScan(payload, timeout)
	if err != nil {
		return Result{}, fmt.Errorf("safety: scan request: %w", err)
	}

	var result Result
	if err := json.Unmarshal(reply, &result); err != nil {
		return Result{}, fmt.Errorf("safety: malformed scan reply: %w", err)
	}
	return result, nil
}
