package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"presence/internal/anomaly"
	"presence/internal/attendance"
	"presence/internal/audit"
	"presence/internal/config"
	"presence/internal/queue"
	"presence/internal/store"
)

// Worker consumes rejection and audit events, runs the anomaly detector,
// and writes suspicious flags. It is strictly downstream of the
// validator: a dead worker degrades anomaly review, never a claim.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema init failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presence:events")
	}

	var counter anomaly.Counter
	if redisClient.Healthy(ctx) {
		counter = anomaly.NewRedisCounter(redisClient.Client)
	} else {
		log.Println("WARNING: redis unreachable, anomaly counters are process-local")
		counter = anomaly.NewMemoryCounter()
	}

	detector := anomaly.NewDetector(counter, anomaly.NewFlagRepo(db.Client), anomaly.Thresholds{
		Window:  cfg.AnomalyWindow,
		Expired: cfg.AnomalyExpiredThreshold,
		Total:   cfg.AnomalyRejectThreshold,
	})

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for events...")
	for msg := range messages {
		switch msg.Type {
		case queue.TypeRejection:
			var evt attendance.RejectionEvent
			if err := json.Unmarshal(msg.Body, &evt); err != nil {
				log.Printf("bad rejection event: %v", err)
				continue
			}
			if err := detector.Process(ctx, evt); err != nil {
				log.Printf("anomaly processing failed for %s/%s: %v", evt.LectureID, evt.StudentID, err)
			}
		case queue.TypeAudit:
			var evt audit.Event
			if err := json.Unmarshal(msg.Body, &evt); err != nil {
				log.Printf("bad audit event: %v", err)
				continue
			}
			log.Printf("audit: %s lecture=%s actor=%s at=%s", evt.Action, evt.LectureID, evt.Actor, evt.At.Format("15:04:05"))
		default:
			// Unknown types are skipped so old messages never wedge the loop.
		}
	}

	log.Println("worker stopped")
}
