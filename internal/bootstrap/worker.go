package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"ordersight/adapter/in/worker"
	"ordersight/adapter/out/messaging"
	"ordersight/config"
)

// Worker runs the pool plus the stream consumer that feeds it.
type Worker struct {
	pool     *worker.Pool
	consumer *messaging.Consumer
	deps     *Dependencies
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	log := deps.Log.With().Str("component", "worker").Logger()

	processor := worker.NewMessageProcessor(deps.Orchestrator, deps.Messages, deps.Log)
	handler := worker.NewHandler(processor, deps.Log)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerMax > 0 {
		poolConfig.MaxWorkers = cfg.WorkerMax
	}
	if cfg.WorkerQueueSize > 0 {
		poolConfig.QueueSize = cfg.WorkerQueueSize
	}
	if cfg.WorkerRatePerSec > 0 {
		poolConfig.RatePerSecond = cfg.WorkerRatePerSec
	}

	pool := worker.NewPool(handler, poolConfig, log)

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}

	w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
		Group:    cfg.ConsumerGroup,
		Consumer: cfg.WorkerID,
		Streams:  []string{messaging.StreamProcessMessage},
		Handler:  &streamHandler{worker: w},
		Logger:   log,

		PendingCheckInterval: time.Duration(cfg.ConsumerPendingCheckSec) * time.Second,
		PendingIdleTime:      time.Duration(cfg.ConsumerPendingIdleSec) * time.Second,
		MaxRetries:           cfg.ConsumerMaxRetries,
	})

	return w, cleanup, nil
}

// streamHandler adapts stream entries to pool messages. A refused submit
// returns an error so the entry stays pending and is redelivered later.
type streamHandler struct {
	worker *Worker
}

func (h *streamHandler) Handle(ctx context.Context, stream string, data []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		// Unreadable payloads would loop through the reclaim cycle forever;
		// ack them and move on.
		h.worker.log.Error().Err(err).Str("stream", stream).Msg("dropping unreadable stream entry")
		return nil
	}

	priority, _ := payload["priority"].(bool)

	if priority {
		msg := worker.NewPriorityMessage(worker.JobProcessMessage, payload, worker.PriorityHigh)
		if !h.worker.pool.SubmitPriority(msg) {
			return fmt.Errorf("priority queue full, stream %s", stream)
		}
		return nil
	}

	msg := worker.NewMessage(worker.JobProcessMessage, payload)
	if !h.worker.pool.Submit(msg) {
		return fmt.Errorf("worker queue full, stream %s", stream)
	}
	return nil
}

// Start runs the pool and consumer until Stop is called.
func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pool.Start()
	}()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Run(w.ctx); err != nil && err != context.Canceled {
			w.log.Error().Err(err).Msg("stream consumer stopped")
		}
	}()

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()
	w.pool.Stop()
	w.wg.Wait()
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
