package analytics

import (
	"context"
	"log/slog"

	"github.com/cascadesearch/cascade/pkg/kafka"
)

// Publisher is the transport behind a Collector.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Collector buffers search events and publishes them asynchronously so
// tracking never blocks the request path. Events are dropped, with a
// warning, when the buffer is full.
type Collector struct {
	producer Publisher
	eventCh  chan SearchEvent
	logger   *slog.Logger
	done     chan struct{}
}

// NewCollector creates a Collector publishing through producer.
func NewCollector(producer Publisher, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		producer: producer,
		eventCh:  make(chan SearchEvent, bufferSize),
		logger:   slog.Default().With("component", "analytics-collector"),
		done:     make(chan struct{}),
	}
}

// Start launches the publish loop. It runs until Close is called or ctx is
// cancelled; on cancellation buffered events are drained best effort.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drain()
				return
			}
		}
	}()
	c.logger.Info("collector started", "buffer_size", cap(c.eventCh))
}

// Track enqueues an event without blocking.
func (c *Collector) Track(event SearchEvent) {
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("event dropped, buffer full")
	}
}

// Close stops accepting events and waits for the publish loop to finish.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event SearchEvent) {
	err := c.producer.Publish(ctx, kafka.Event{
		Key:   string(event.Type),
		Value: event,
	})
	if err != nil {
		c.logger.Error("failed to publish event", "type", event.Type, "error", err)
	}
}

func (c *Collector) drain() {
	ctx := context.Background()
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(ctx, event)
		default:
			return
		}
	}
}
