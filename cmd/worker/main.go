package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lumochat/chat-engine/internal/ai"
	"github.com/lumochat/chat-engine/internal/bus"
	"github.com/lumochat/chat-engine/internal/chat"
	"github.com/lumochat/chat-engine/internal/config"
	"github.com/lumochat/chat-engine/internal/db"
	"github.com/lumochat/chat-engine/pkg/log"
)

type jobMsg struct {
	JobID string `json:"job_id"`
}

func newRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("openai", ai.NewOpenAIGateway())
	reg.Register("openrouter", ai.NewOpenRouterGateway(cfg.OpenRouterSiteURL, cfg.OpenRouterAppName))
	reg.Register("gemini", ai.NewGeminiGateway())

	mock := ai.NewMockGateway()
	if cfg.MockWordCount > 0 {
		mock.DefaultWordCount = cfg.MockWordCount
	}
	reg.Register("mock", mock)
	return reg
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log.Init(cfg.LogLevel, cfg.LogFormat)
	defer log.Sync()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}

	repo := chat.NewRepo(gdb)
	orch := chat.NewOrchestrator(repo, newRegistry(cfg), bus.Nop{})

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	// Declarations must match the publisher's topology exactly or the broker
	// rejects them.
	dlq := cfg.RabbitQueue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		log.Fatalf("dlq declare: %v", err)
	}
	_, err = ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	})
	if err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	if concurrency > 50 {
		concurrency = 50
	}

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m jobMsg
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Warnw("bad message", "worker", workerID, "error", err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := orch.RunTurnJob(ctx, m.JobID); err != nil {
					log.Warnw("job failed", "worker", workerID, "job", m.JobID, "cost", time.Since(start).String(), "error", err)
					// The outcome is already recorded on the job row; ack so
					// the queue does not replay a terminally failed turn.
					_ = d.Ack(false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Warnw("ack failed", "worker", workerID, "job", m.JobID, "error", err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Infof("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warnf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}
