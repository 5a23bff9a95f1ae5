package kafka

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/psds-microservice/helpdesk-service/internal/model"
)

func TestEnvelopeKeepsServiceFields(t *testing.T) {
	msg := Envelope(EventTicketUpdated, 42, map[string]interface{}{
		"event":  "spoofed",
		"status": model.TicketStatusResolved,
	})
	assert.Equal(t, EventTicketUpdated, msg["event"])
	assert.Equal(t, uint64(42), msg["ticket_id"])
	assert.Equal(t, model.TicketStatusResolved, msg["status"])
	assert.NotEmpty(t, msg["occurred_at"])
}

func TestTicketPayloadOmitsInternalNotes(t *testing.T) {
	p := TicketPayload(&model.Ticket{ID: 1, Status: model.TicketStatusNew, InternalNotes: "solo staff"})
	assert.NotContains(t, p, "internal_notes")
	assert.Equal(t, model.TicketStatusNew, p["status"])
}

func TestDisabledProducerIsNoop(t *testing.T) {
	p := NewProducer(nil, "helpdesk.tickets", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.False(t, p.Enabled())
	assert.NoError(t, p.ProduceTicketEvent(context.Background(), EventTicketCreated, 1, nil))
	assert.NoError(t, p.Close())
}
