package main

import (
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/DEcyberhawk/whisspra-backend/internal/messaging"
	"github.com/DEcyberhawk/whisspra-backend/internal/moderation"
	"github.com/DEcyberhawk/whisspra-backend/internal/safety"
)

func main() {
	_ = godotenv.Load()

	log.Println("Starting Whisspra safety scan worker...")

	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "whisspra-scanworker"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	analyzer := moderation.NewAnalyzer()

	// Scan requests arrive over request/reply; members of the worker queue
	// group split the load, and every request gets exactly one reply.
	err = natsClient.SubscribeSafetyScan(func(data []byte) []byte {
		var req safety.Request
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("[scanworker] bad request: %v", err)
			return nil
		}

		var verdict moderation.Verdict
		switch req.ContentType {
		case "image":
			verdict = analyzer.ClassifyImage(req.Content)
		default:
			verdict = analyzer.ClassifyText(req.Content)
		}

		if verdict.Flagged {
			log.Printf("[scanworker] FLAGGED type=%s category=%s reason=%s",
				req.ContentType, verdict.Category, verdict.Reason)
		} else {
			log.Printf("[scanworker] CLEAN type=%s", req.ContentType)
		}

		reply, err := json.Marshal(safety.Result{
			Flagged:  verdict.Flagged,
			Category: verdict.Category,
			Reason:   verdict.Reason,
		})
		if err != nil {
			log.Printf("[scanworker] failed to marshal reply: %v", err)
			return nil
		}
		return reply
	})
	if err != nil {
		log.Fatalf("failed to subscribe to scan requests: %v", err)
	}

	log.Printf("Whisspra safety scan worker running")
	log.Printf("  nats_url: %s", natsConfig.URL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
}
