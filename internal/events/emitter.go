package events

import (
	"log"

	"github.com/inamkkkk/funding-inam/internal/domain"
)

// Emitter hands domain events to the notification subsystem. Emission is
// fire-and-forget and happens strictly after the ledger mutation commits;
// the core owes no delivery guarantee beyond that.
type Emitter interface {
	Emit(ev domain.DomainEvent)
}

// Func adapts a plain function to the Emitter interface.
type Func func(domain.DomainEvent)

func (f Func) Emit(ev domain.DomainEvent) { f(ev) }

// LogEmitter writes each event to the process log. It is the default sink
// when no notification subsystem is wired in.
type LogEmitter struct{}

func (LogEmitter) Emit(ev domain.DomainEvent) {
	log.Printf("[events] %s campaign=%s pledge=%s", ev.Type, ev.CampaignID, ev.PledgeID)
}
