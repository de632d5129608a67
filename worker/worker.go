package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/hkinc45/dev-kitchen-session/store"
)

// Config holds the configuration for the pull subscriber worker pool.
type Config struct {
	StreamName     string
	Subject        string
	DurableName    string
	BatchSize      int
	MaxConcurrent  int
	MaxWait        time.Duration
	ProcessTimeout time.Duration
	Handler        Handler
	JetStream      nats.JetStreamContext
	Logger         zerolog.Logger
}

// Handler is an interface that processing logic must implement.
type Handler interface {
	// Process handles a single NATS message.
	Process(ctx context.Context, msg *nats.Msg) error
	// GetLockingKey extracts a string key from a message to ensure sequential processing for the same resource.
	// If no specific locking is needed, it can return an empty string.
	GetLockingKey(msg *nats.Msg) (string, error)
}

// PullSubscriber manages a pool of workers to process messages from a NATS JetStream pull subscription.
type PullSubscriber struct {
	config    Config
	sub       *nats.Subscription
	mu        sync.Mutex
	active    bool
	keyLocks  store.KeyLocks
	semaphore chan struct{}
	wg        sync.WaitGroup
}

// EnsureStream creates the stream for subjects unless it already exists.
func EnsureStream(js nats.JetStreamContext, name string, subjects ...string) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !stderrors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", name, err)
	}
	if _, err := js.AddStream(&nats.StreamConfig{Name: name, Subjects: subjects}); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", name, err)
	}
	return nil
}

// NewPullSubscriber creates and starts a new concurrent pull subscriber.
func NewPullSubscriber(cfg Config) (*PullSubscriber, error) {
	cfg = withDefaults(cfg)

	// Create the JetStream consumer
	_, err := cfg.JetStream.AddConsumer(cfg.StreamName, &nats.ConsumerConfig{
		Durable:       cfg.DurableName,
		AckPolicy:     nats.AckExplicitPolicy,
		FilterSubject: cfg.Subject,
		MaxDeliver:    5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for subject %s: %w", cfg.Subject, err)
	}

	// Create the pull subscription
	sub, err := cfg.JetStream.PullSubscribe(cfg.Subject, cfg.DurableName, nats.BindStream(cfg.StreamName))
	if err != nil {
		return nil, fmt.Errorf("failed to pull subscribe to subject %s: %w", cfg.Subject, err)
	}

	ps := newPullSubscriber(cfg, sub)
	go ps.startDispatcher()

	cfg.Logger.Info().Str("subject", cfg.Subject).Str("durable", cfg.DurableName).Msg("started pull subscriber")
	return ps, nil
}

func withDefaults(cfg Config) Config {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 25
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 30 * time.Second
	}
	if cfg.ProcessTimeout == 0 {
		cfg.ProcessTimeout = time.Minute
	}
	return cfg
}

func newPullSubscriber(cfg Config, sub *nats.Subscription) *PullSubscriber {
	return &PullSubscriber{
		config:    cfg,
		sub:       sub,
		active:    true,
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
	}
}

func (ps *PullSubscriber) isActive() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.active
}

// startDispatcher is the main loop that fetches messages and dispatches them to workers.
func (ps *PullSubscriber) startDispatcher() {
	log := ps.config.Logger
	for ps.isActive() {
		msgs, err := ps.sub.Fetch(ps.config.BatchSize, nats.MaxWait(ps.config.MaxWait))
		if err != nil {
			if stderrors.Is(err, nats.ErrTimeout) {
				continue
			}
			if !ps.isActive() {
				return
			}
			log.Error().Err(err).Str("subject", ps.config.Subject).Msg("failed to fetch messages")
			time.Sleep(5 * time.Second)
			continue
		}

		for _, msg := range msgs {
			ps.semaphore <- struct{}{} // Acquire semaphore slot
			ps.wg.Add(1)
			go ps.processMessage(msg)
		}
	}
}

// processMessage handles the full lifecycle of a single message, including locking and acknowledgement.
func (ps *PullSubscriber) processMessage(msg *nats.Msg) {
	defer func() {
		<-ps.semaphore // Release semaphore slot
		ps.wg.Done()
	}()
	log := ps.config.Logger

	lockingKey, err := ps.config.Handler.GetLockingKey(msg)
	if err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to get locking key, naking message")
		_ = msg.NakWithDelay(5 * time.Second)
		return
	}

	// If a locking key is provided, acquire the specific lock for that key.
	if lockingKey != "" {
		unlock := ps.keyLocks.Lock(lockingKey)
		defer unlock()
	}

	log.Debug().Str("subject", msg.Subject).Str("key", lockingKey).Msg("processing message")

	ctx, cancel := context.WithTimeout(context.Background(), ps.config.ProcessTimeout)
	defer cancel()

	if err := ps.config.Handler.Process(ctx, msg); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("handler failed, naking message")
		_ = msg.NakWithDelay(15 * time.Second)
		return
	}
	if err := msg.Ack(); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to ack message")
		return
	}
	log.Debug().Str("subject", msg.Subject).Str("key", lockingKey).Msg("processed and acked message")
}

// Stop gracefully stops the subscriber and waits for in-flight messages.
func (ps *PullSubscriber) Stop() {
	ps.mu.Lock()
	if !ps.active {
		ps.mu.Unlock()
		return
	}
	ps.active = false
	ps.mu.Unlock()

	// Unsubscribe to stop receiving new messages
	if err := ps.sub.Unsubscribe(); err != nil {
		ps.config.Logger.Warn().Err(err).Str("subject", ps.config.Subject).Msg("error during unsubscribe")
	}
	ps.wg.Wait()
	ps.config.Logger.Info().Str("subject", ps.config.Subject).Msg("stopped subscriber")
}
