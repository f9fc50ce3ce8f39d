package audit

import (
	"context"

	id "packreg/pkg/domain"
	"packreg/pkg/requestcontext"
)

// Store is the append-only sink publishers write to.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByOrganisation(ctx context.Context, orgID id.OrganisationID) ([]Event, error)
}

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	return p.store.Append(ctx, event)
}

func (p *Publisher) List(ctx context.Context, orgID id.OrganisationID) ([]Event, error) {
	return p.store.ListByOrganisation(ctx, orgID)
}

// ChannelPublisher hands events to a background Worker instead of writing
// inline. Emit blocks until the worker picks the event up or the context
// ends, so no event is silently dropped.
type ChannelPublisher struct {
	inbox chan<- Event
}

func NewChannelPublisher(inbox chan<- Event) *ChannelPublisher {
	return &ChannelPublisher{inbox: inbox}
}

func (p *ChannelPublisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	select {
	case p.inbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
