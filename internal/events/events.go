// Package events publishes request-log entries to Kafka without blocking the
// request path.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/similarwords/anagramd/internal/config"
	"github.com/similarwords/anagramd/internal/model"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
)

// Writer is the part of *kafka.Writer the collector uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RequestEvent is the JSON payload for one recorded request.
type RequestEvent struct {
	ID               int64     `json:"id"`
	Endpoint         string    `json:"endpoint"`
	Timestamp        time.Time `json:"timestamp"`
	ProcessingTimeUs float64   `json:"processing_time_us"`
	Word             *string   `json:"word,omitempty"`
}

// Collector buffers events in a bounded channel and writes them to Kafka in
// batches from a background goroutine. Publish never blocks; when the buffer
// is full the event is dropped.
type Collector struct {
	writer        Writer
	queue         chan kafka.Message
	batchSize     int
	flushInterval time.Duration
	log           zerolog.Logger
	dropped       atomic.Int64
	published     atomic.Int64
	done          chan struct{}
	startOnce     sync.Once
}

// NewKafkaWriter returns a writer for cfg.Topic on cfg.Brokers.
func NewKafkaWriter(cfg config.EventsConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    defaultBatchSize,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireOne,
	}
}

func NewCollector(w Writer, bufferSize int, log zerolog.Logger) *Collector {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Collector{
		writer:        w,
		queue:         make(chan kafka.Message, bufferSize),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		log:           log.With().Str("component", "event-collector").Logger(),
		done:          make(chan struct{}),
	}
}

// Start launches the flush loop. It drains the buffer and returns once ctx
// is cancelled; Close waits for that.
func (c *Collector) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.run(ctx)
		c.log.Info().Int("buffer", cap(c.queue)).Dur("flush_interval", c.flushInterval).Msg("event collector started")
	})
}

// Publish queues e for delivery.
func (c *Collector) Publish(e model.RequestLogEntry) {
	value, err := json.Marshal(RequestEvent(e))
	if err != nil {
		c.log.Error().Err(err).Msg("marshaling request event")
		return
	}
	msg := kafka.Message{Key: []byte(e.Endpoint), Value: value, Time: e.Timestamp}
	select {
	case c.queue <- msg:
	default:
		if n := c.dropped.Add(1); n == 1 || n%1000 == 0 {
			c.log.Warn().Int64("dropped_total", n).Int64("id", e.ID).Msg("event buffer full, dropping")
		}
	}
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Message, 0, c.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := c.writer.WriteMessages(ctx, batch...); err != nil {
			c.log.Error().Err(err).Int("batch_size", len(batch)).Msg("event batch flush failed")
		} else {
			c.published.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case msg := <-c.queue:
			batch = append(batch, msg)
			if len(batch) >= c.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		drain:
			for {
				select {
				case msg := <-c.queue:
					batch = append(batch, msg)
					if len(batch) >= c.batchSize {
						flush(flushCtx)
					}
				default:
					break drain
				}
			}
			flush(flushCtx)
			cancel()
			return
		}
	}
}

// Close waits for the flush loop to exit and closes the writer.
func (c *Collector) Close() error {
	c.startOnce.Do(func() { close(c.done) })
	<-c.done
	return c.writer.Close()
}

// Stats returns the number of published and dropped events.
func (c *Collector) Stats() (published, dropped int64) {
	return c.published.Load(), c.dropped.Load()
}
