package pipeline

import (
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mboers/homestore/events"
)

const channelBufferSize = 16

var droppedEventsCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "homestore",
	Name:      "dropped_events_total",
	Help:      "The total number of events dropped because a subscriber's buffer was full.",
})

func init() {
	prometheus.MustRegister(droppedEventsCounter)
}

// Bus fans events out to every subscriber. Publishing never blocks: a
// subscriber whose buffer is full misses the event, so slow consumers only
// hurt themselves.
type Bus struct {
	sync.RWMutex
	subs   []chan events.Event
	closed bool

	ulid *events.MonotonicULIDGenerator
	log  *zap.SugaredLogger
}

func NewBus() *Bus {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Bus{
		ulid: events.NewMonotonicULIDGenerator(entropy),
		log:  zap.L().Sugar().With("service", "bus"),
	}
}

func (b *Bus) Subscribe() chan events.Event {
	b.Lock()
	defer b.Unlock()

	if b.closed {
		return nil
	}

	ch := make(chan events.Event, channelBufferSize)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish stamps the event with an identifier and time (when unset) and
// hands it to every subscriber.
func (b *Bus) Publish(event events.Event) {
	b.RLock()
	defer b.RUnlock()

	if b.closed {
		return
	}

	if event.At.IsZero() {
		event.At = time.Now()
	}
	if event.ID == "" {
		id, err := b.ulid.New(event.At)
		if err == nil {
			event.ID = id.String()
		}
	}

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			droppedEventsCounter.Inc()
			b.log.Debugw("dropping event for slow subscriber",
				"kind", event.Kind.String(), "room", event.Room)
		}
	}
}

func (b *Bus) Close() {
	b.Lock()
	defer b.Unlock()

	if !b.closed {
		b.closed = true
		for _, ch := range b.subs {
			close(ch)
		}
	}
}
