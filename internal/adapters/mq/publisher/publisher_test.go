package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/coachboard/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// stalledWriter never answers until the write context ends.
type stalledWriter struct {
	started chan struct{}
	once    sync.Once
}

func (s *stalledWriter) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return ctx.Err()
}

func (s *stalledWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	Convey("Given a Kafka publisher with a fake writer", t, func() {
		fw := &fakeWriter{}
		p := newKafka(fw)
		ctx := context.Background()

		Convey("When an athlete rename is published", func() {
			err := p.Publish(ctx, Event{Kind: KindAthleteRenamed, ID: "p1", Athlete: "Anna B.", OldNames: []string{"Anna"}})
			So(err, ShouldBeNil)
			So(p.Close(), ShouldBeNil)

			Convey("Then one JSON message keyed by athlete is written before close", func() {
				So(fw.msgs, ShouldHaveLength, 1)
				msg := fw.msgs[0]
				So(string(msg.Key), ShouldEqual, "Anna B.")
				So(msg.Headers[0].Key, ShouldEqual, "kind")
				So(string(msg.Headers[0].Value), ShouldEqual, KindAthleteRenamed)

				var decoded map[string]any
				So(json.Unmarshal(msg.Value, &decoded), ShouldBeNil)
				So(decoded["kind"], ShouldEqual, KindAthleteRenamed)
				So(decoded["oldNames"], ShouldResemble, []any{"Anna"})
				So(decoded["at"], ShouldNotBeEmpty)
				So(fw.closed, ShouldBeTrue)
			})
		})

		Convey("When the writer fails", func() {
			fw.err = errors.New("broker down")
			err := p.Publish(ctx, Event{Kind: KindEvaluationCreated})

			Convey("Then the caller is not affected and nothing is written", func() {
				So(err, ShouldBeNil)
				So(p.Close(), ShouldBeNil)
				So(fw.msgs, ShouldBeEmpty)
			})
		})

		Convey("When publishing after close", func() {
			So(p.Close(), ShouldBeNil)
			err := p.Publish(ctx, Event{Kind: KindAthleteDeleted})

			Convey("Then the event is refused", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, KindAthleteDeleted)
			})
		})

		Convey("When closed twice", func() {
			So(p.Close(), ShouldBeNil)
			So(p.Close(), ShouldBeNil)
		})
	})

	Convey("Given a broker that never answers", t, func() {
		sw := &stalledWriter{started: make(chan struct{})}
		p := newKafka(sw, WithBufferSize(1), WithWriteTimeout(200*time.Millisecond))
		ctx := context.Background()
		Reset(func() { _ = p.Close() })

		Convey("When events are published", func() {
			start := time.Now()
			So(p.Publish(ctx, Event{Kind: KindAthleteCreated, Athlete: "Anna"}), ShouldBeNil)
			<-sw.started
			So(p.Publish(ctx, Event{Kind: KindAthleteUpdated, Athlete: "Anna"}), ShouldBeNil)
			err := p.Publish(ctx, Event{Kind: KindAthleteUpdated, Athlete: "Anna"})
			elapsed := time.Since(start)

			Convey("Then publishing returns without waiting for the broker", func() {
				So(elapsed, ShouldBeLessThan, 100*time.Millisecond)
			})

			Convey("Then a full buffer drops the event", func() {
				So(errors.Is(err, ErrBufferFull), ShouldBeTrue)
			})

			Convey("Then close is bounded by the write timeout", func() {
				closeStart := time.Now()
				So(p.Close(), ShouldBeNil)
				So(time.Since(closeStart), ShouldBeLessThan, 2*time.Second)
			})
		})
	})

	Convey("Given a real writer pointed at a silent listener", t, func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		So(err, ShouldBeNil)
		defer ln.Close()
		go func() {
			var conns []net.Conn
			defer func() {
				for _, c := range conns {
					_ = c.Close()
				}
			}()
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				conns = append(conns, conn)
			}
		}()

		p := NewKafka([]string{ln.Addr().String()}, "changes", WithWriteTimeout(200*time.Millisecond))
		Reset(func() { _ = p.Close() })

		Convey("When an event is published", func() {
			start := time.Now()
			err := p.Publish(context.Background(), Event{Kind: KindEvaluationCreated, Athlete: "Anna"})

			Convey("Then the request path does not block", func() {
				So(err, ShouldBeNil)
				So(time.Since(start), ShouldBeLessThan, 100*time.Millisecond)
			})
		})
	})
}

func TestNew(t *testing.T) {
	Convey("Given publisher construction", t, func() {
		Convey("Then no brokers yields a no-op publisher", func() {
			p := New(nil, "topic")
			_, ok := p.(Noop)
			So(ok, ShouldBeTrue)
			So(p.Publish(context.Background(), Event{Kind: KindAthleteCreated}), ShouldBeNil)
			So(p.Close(), ShouldBeNil)
		})

		Convey("Then brokers yield a Kafka publisher", func() {
			p := New([]string{"localhost:9092"}, "topic")
			_, ok := p.(*Kafka)
			So(ok, ShouldBeTrue)
			So(p.Close(), ShouldBeNil)
		})
	})
}
