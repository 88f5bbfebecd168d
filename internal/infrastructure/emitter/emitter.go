// Package emitter is the concrete Emitter (§6) collaborator: it fans engine
// events out over a channel the host application drains, the way the
// teacher's pkg/crawler exposes a single GetEventChannel() for its Observe
// events, while also logging and counting them for operational visibility.
package emitter

import (
	log "github.com/sirupsen/logrus"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/walletsync-engine/walletsyncd/internal/ports"
)

// Event wraps one emitted payload with its type, mirroring the teacher's
// crawler.Event interface so a host can type-switch on Type().
type Event struct {
	Type    ports.EventType
	Payload interface{}
}

// ChannelEmitter implements ports.Emitter by pushing onto a buffered
// channel. A slow or absent consumer never blocks the engine: when the
// buffer is full the event is dropped and logged instead of backpressuring
// the dispatcher.
type ChannelEmitter struct {
	events  chan Event
	counter *prometheus.CounterVec
}

// New creates a ChannelEmitter with the given channel buffer size.
func New(bufferSize int) *ChannelEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ChannelEmitter{
		events: make(chan Event, bufferSize),
		counter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletsyncd",
			Name:      "events_emitted_total",
			Help:      "Number of engine events emitted, by type.",
		}, []string{"type"}),
	}
}

// Events returns the channel a host application drains to receive events.
func (e *ChannelEmitter) Events() <-chan Event {
	return e.events
}

// Collector exposes the emission counter for Prometheus registration.
func (e *ChannelEmitter) Collector() prometheus.Collector {
	return e.counter
}

func (e *ChannelEmitter) publish(evt Event) {
	e.counter.WithLabelValues(string(evt.Type)).Inc()
	select {
	case e.events <- evt:
	default:
		log.WithField("type", evt.Type).Warn("event channel full, dropping event")
	}
}

// EmitAddressesChecked implements ports.Emitter.
func (e *ChannelEmitter) EmitAddressesChecked(p ports.AddressesCheckedPayload) {
	log.WithField("ratio", p.Ratio).Debug("addresses checked")
	e.publish(Event{Type: ports.EventAddressesChecked, Payload: p})
}

// EmitBalanceChanged implements ports.Emitter.
func (e *ChannelEmitter) EmitBalanceChanged(p ports.BalanceChangedPayload) {
	log.WithFields(log.Fields{"currency": p.CurrencyCode, "balance": p.Balance}).Info("balance changed")
	e.publish(Event{Type: ports.EventBalanceChanged, Payload: p})
}

// EmitTxidsChanged implements ports.Emitter.
func (e *ChannelEmitter) EmitTxidsChanged(p ports.TxidsChangedPayload) {
	log.WithField("count", len(p.BlockTimeByTxid)).Info("txids changed")
	e.publish(Event{Type: ports.EventTxidsChanged, Payload: p})
}

// EmitError implements ports.Emitter.
func (e *ChannelEmitter) EmitError(err error) {
	log.WithError(err).Error("engine error")
	e.publish(Event{Type: "ERROR", Payload: err})
}

var _ ports.Emitter = (*ChannelEmitter)(nil)
