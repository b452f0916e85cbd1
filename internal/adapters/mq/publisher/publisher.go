// Package publisher emits change events for athletes and evaluations.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/okian/coachboard/pkg/logger"
	"github.com/okian/coachboard/pkg/metrics"
)

// Change kinds.
const (
	KindAthleteCreated     = "athlete.created"
	KindAthleteUpdated     = "athlete.updated"
	KindAthleteRenamed     = "athlete.renamed"
	KindAthleteDeleted     = "athlete.deleted"
	KindEvaluationCreated  = "evaluation.created"
	KindEvaluationDeleted  = "evaluation.deleted"
	KindEvaluationsDeleted = "evaluations.deleted"
)

// Event describes one committed change.
type Event struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
	// ID is the affected record, when there is exactly one.
	ID       string   `json:"id,omitempty"`
	Athlete  string   `json:"athleteName,omitempty"`
	OldNames []string `json:"oldNames,omitempty"`
	// Count is set for bulk changes.
	Count   *int64 `json:"count,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Publisher hands change events to a feed.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(_ context.Context, e Event) error {
	metrics.RecordChangePublished(e.Kind, "skipped")
	return nil
}

func (Noop) Close() error { return nil }

// ErrBufferFull is returned when an event cannot be buffered for sending.
var ErrBufferFull = errors.New("change feed buffer full")

const (
	defaultBufferSize   = 256
	defaultWriteTimeout = 5 * time.Second
	batchTimeout        = 10 * time.Millisecond
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes events as JSON messages keyed by athlete name, so changes to
// one athlete stay ordered within a partition. Publish only buffers the
// message; a background loop sends it.
type Kafka struct {
	w            messageWriter
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	msgs   chan pending
	done   chan struct{}
}

type pending struct {
	kind string
	msg  kafka.Message
}

// Option configures a Kafka publisher.
type Option func(*Kafka)

// WithWriteTimeout bounds each background write.
func WithWriteTimeout(d time.Duration) Option {
	return func(k *Kafka) {
		if d > 0 {
			k.writeTimeout = d
		}
	}
}

// WithBufferSize sets how many events may wait for the broker.
func WithBufferSize(n int) Option {
	return func(k *Kafka) {
		if n > 0 {
			k.msgs = make(chan pending, n)
		}
	}
}

// NewKafka creates a publisher for topic on brokers.
func NewKafka(brokers []string, topic string, opts ...Option) *Kafka {
	return newKafka(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
	}, opts...)
}

func newKafka(w messageWriter, opts ...Option) *Kafka {
	k := &Kafka{
		w:            w,
		writeTimeout: defaultWriteTimeout,
		msgs:         make(chan pending, defaultBufferSize),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	go k.drain()
	return k
}

func (k *Kafka) drain() {
	defer close(k.done)
	for p := range k.msgs {
		ctx, cancel := context.WithTimeout(context.Background(), k.writeTimeout)
		err := k.w.WriteMessages(ctx, p.msg)
		cancel()
		if err != nil {
			metrics.RecordChangePublished(p.kind, metrics.OutcomeError)
			logger.Get().Warn(context.Background(), "change event not delivered",
				logger.String("kind", p.kind), logger.Error(err))
			continue
		}
		metrics.RecordChangePublished(p.kind, metrics.OutcomeOK)
	}
}

// Publish encodes e and queues it without waiting for the broker.
func (k *Kafka) Publish(_ context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		metrics.RecordChangePublished(e.Kind, metrics.OutcomeError)
		return fmt.Errorf("encode %s event: %w", e.Kind, err)
	}
	msg := kafka.Message{
		Key:   []byte(e.Athlete),
		Value: body,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
		},
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		metrics.RecordChangePublished(e.Kind, metrics.OutcomeDropped)
		return fmt.Errorf("publish %s event: publisher closed", e.Kind)
	}
	select {
	case k.msgs <- pending{kind: e.Kind, msg: msg}:
		return nil
	default:
		metrics.RecordChangePublished(e.Kind, metrics.OutcomeDropped)
		return fmt.Errorf("publish %s event: %w", e.Kind, ErrBufferFull)
	}
}

// Close sends what is buffered, then closes the writer.
func (k *Kafka) Close() error {
	k.mu.Lock()
	first := !k.closed
	if first {
		k.closed = true
		close(k.msgs)
	}
	k.mu.Unlock()
	<-k.done
	if !first {
		return nil
	}
	return k.w.Close()
}

// New returns a Kafka publisher when brokers are configured and Noop otherwise.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return Noop{}
	}
	return NewKafka(brokers, topic)
}
