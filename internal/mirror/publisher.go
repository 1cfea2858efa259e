package mirror

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config holds publisher configuration.
type Config struct {
	// SubjectPrefix prefixes all mirror subjects, e.g. "kimera.mirror".
	SubjectPrefix string

	// MaxAttempts bounds publish retries per event. Events exceeding it
	// are dropped with a log entry.
	MaxAttempts int
}

// Publisher drains the outbox to NATS.
//
// Subjects follow {prefix}.{entity_kind}.{op}, e.g. kimera.mirror.geoid.
// upsert_node. Retries back off exponentially per attempt; an event that
// exhausts MaxAttempts is dropped, never bubbled up to the writer.
type Publisher struct {
	cfg    Config
	conn   *nats.Conn
	outbox *Outbox
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewPublisher creates a Publisher. conn may come from nats.Connect; the
// publisher does not own the connection.
func NewPublisher(cfg Config, conn *nats.Conn, outbox *Outbox, logger *zap.Logger) (*Publisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "kimera.mirror"
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	return &Publisher{
		cfg:    cfg,
		conn:   conn,
		outbox: outbox,
		logger: logger.Named("mirror"),
	}, nil
}

// Start launches the drain loop.
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("publisher is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	go p.run()
	p.logger.Info("mirror publisher started", zap.String("subject_prefix", p.cfg.SubjectPrefix))
	return nil
}

// Stop signals the drain loop and waits for it to finish the event in
// flight. Pending events stay queued.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()

	<-done
	p.logger.Info("mirror publisher stopped", zap.Int("pending", p.outbox.Len()))
}

func (p *Publisher) run() {
	defer close(p.done)

	for {
		ev, ok := p.outbox.Dequeue()
		if !ok {
			select {
			case <-p.outbox.Notify():
				continue
			case <-p.stopCh:
				return
			}
		}

		select {
		case <-p.stopCh:
			p.outbox.Requeue(ev)
			return
		default:
		}

		p.publish(ev)
	}
}

// publish attempts one event, requeueing with backoff until MaxAttempts.
func (p *Publisher) publish(ev Event) {
	subject := fmt.Sprintf("%s.%s.%s", p.cfg.SubjectPrefix, ev.EntityKind, ev.Op)

	err := p.conn.Publish(subject, ev.Payload)
	if err == nil {
		p.logger.Debug("mirror event published",
			zap.String("subject", subject),
			zap.String("entity_id", ev.EntityID),
		)
		return
	}

	ev.Attempts++
	if ev.Attempts >= p.cfg.MaxAttempts {
		p.logger.Error("dropping mirror event after max attempts",
			zap.String("subject", subject),
			zap.String("entity_id", ev.EntityID),
			zap.Int("attempts", ev.Attempts),
			zap.Error(err),
		)
		return
	}

	p.logger.Warn("mirror publish failed, requeueing",
		zap.String("subject", subject),
		zap.String("entity_id", ev.EntityID),
		zap.Int("attempts", ev.Attempts),
		zap.Error(err),
	)

	// Exponential backoff before the event becomes eligible again.
	backoff := time.Duration(1<<uint(ev.Attempts-1)) * 100 * time.Millisecond
	select {
	case <-time.After(backoff):
	case <-p.stopCh:
	}
	p.outbox.Requeue(ev)
}
