// Package monitor subscribes to the control plane's event bus and turns a
// fixed set of operationally significant events (data freezes, blown
// accounts, kill-switch activations, job timeouts, order blocks, graduation
// results) into
// operator alerts. Grounded on the teacher's own event-subscriber Monitor
// shape, generalized from a single risk-alert topic to the event set this
// domain actually publishes.
package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"futurescore/internal/events"
)

// watchedEvents is the fixed set of topics the monitor treats as alerts;
// routine topics (EventBar, EventQuote, EventPaperTradeOpened/Closed) are
// deliberately not subscribed here, since they fire on every bar and would
// drown the alert channel (§4.K status broadcasts cover those instead).
var watchedEvents = []events.Event{
	events.EventDataFrozen,
	events.EventAccountBlown,
	events.EventKillSwitchEngaged,
	events.EventJobTimeout,
	events.EventOrderBlocked,
	events.EventGraduationResult,
}

// Monitor watches the event bus and routes alerts to a Sink.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
}

// New builds a Monitor; sink defaults to LogSink if nil.
func New(bus *events.Bus, sink AlertSink) *Monitor {
	if sink == nil {
		sink = LogSink{}
	}
	return &Monitor{Bus: bus, Sink: sink}
}

// Start subscribes to every watched event and forwards formatted alerts to
// the sink until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Println("monitor: no event bus configured, skipping")
		return
	}
	for _, e := range watchedEvents {
		m.watch(ctx, e)
	}
}

func (m *Monitor) watch(ctx context.Context, e events.Event) {
	stream, unsub := m.Bus.Subscribe(e, 64)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-stream:
				if !ok {
					return
				}
				if err := m.Sink.Send(formatAlert(e, payload)); err != nil {
					log.Printf("monitor: alert sink failed for %s: %v", e, err)
				}
			}
		}
	}()
}

func formatAlert(e events.Event, payload any) string {
	return fmt.Sprintf("[%s] %s %+v", time.Now().Format(time.RFC3339), e, payload)
}

func logAlert(message string) {
	log.Println(message)
}
