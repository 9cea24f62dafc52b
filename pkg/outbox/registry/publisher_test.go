package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/kitafinder-backend/pkg/db/models"
	"github.com/angelmondragon/kitafinder-backend/pkg/enums"
	"github.com/angelmondragon/kitafinder-backend/pkg/outbox"
	"github.com/angelmondragon/kitafinder-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventBillingStatusChanged,
		AggregateType: enums.AggregateBillingRecord,
		AggregateID:   "A-1",
		Payload: mustEnvelope(t, mustMarshal(t, payloads.BillingStatusChangedEvent{
			AccountID: "A-1",
			From:      enums.BillingStatusActive,
			To:        enums.BillingStatusCanceled,
		})),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "billing-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.BillingStatusChangedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.To != enums.BillingStatusCanceled || payload.AccountID != "A-1" {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" || resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope metadata missing: %+v", resolved.Envelope)
	}
}

func TestEventRegistryRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)
	valid := mustEnvelope(t, mustMarshal(t, payloads.ListingsSuspendedEvent{AccountID: "A-1", Count: 2}))

	cases := map[string]models.OutboxEvent{
		"unknown type": {EventType: "order_created", AggregateType: enums.AggregateAccount, AggregateID: "A-1", Payload: valid},
		"aggregate mismatch": {
			EventType: enums.EventListingsSuspended, AggregateType: enums.AggregateBillingRecord, AggregateID: "A-1", Payload: valid,
		},
		"missing aggregate": {EventType: enums.EventListingsSuspended, AggregateType: enums.AggregateAccount, Payload: valid},
		"bad envelope": {
			EventType: enums.EventListingsSuspended, AggregateType: enums.AggregateAccount, AggregateID: "A-1", Payload: json.RawMessage(`{`),
		},
		"null data": {
			EventType: enums.EventListingsSuspended, AggregateType: enums.AggregateAccount, AggregateID: "A-1", Payload: mustEnvelope(t, json.RawMessage(`null`)),
		},
	}
	for name, row := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(row)
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected NonRetryableError, got %v", err)
			}
		})
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry("  "); err == nil {
		t.Fatal("expected error for empty topic")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry("billing-topic")
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func mustEnvelope(t *testing.T, data json.RawMessage) json.RawMessage {
	t.Helper()
	return mustMarshal(t, outbox.PayloadEnvelope{
		Version:    1,
		EventID:    "evt-envelope",
		OccurredAt: time.Now(),
		Data:       data,
	})
}
