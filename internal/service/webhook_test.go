package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/calebdavis/textback/internal/domain"
	"github.com/google/uuid"
)

// =============================================================================
// Mock WebhookStore Implementation
// =============================================================================

// mockWebhookStore implements the WebhookStore interface with a real
// in-memory ledger, so the exactly-once behavior can be exercised under
// concurrency.
type mockWebhookStore struct {
	mu     sync.Mutex
	ledger map[string]*domain.WebhookEvent

	business *domain.Business

	subscriptionUpdates []subscriptionUpdate
	usageResets         int
	backfills           []string
}

type subscriptionUpdate struct {
	businessID     uuid.UUID
	status         domain.SubscriptionStatus
	usageLimit     int
	subscriptionID string
}

func newMockWebhookStore(business *domain.Business) *mockWebhookStore {
	return &mockWebhookStore{
		ledger:   make(map[string]*domain.WebhookEvent),
		business: business,
	}
}

func (m *mockWebhookStore) InsertWebhookEventIfNew(ctx context.Context, eventID, eventType string, businessID *uuid.UUID) (bool, *domain.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.ledger[eventID]; ok {
		return false, existing, nil
	}
	ev := &domain.WebhookEvent{
		ID:          uuid.New(),
		EventID:     eventID,
		EventType:   eventType,
		BusinessID:  businessID,
		ProcessedAt: time.Now().UTC(),
	}
	m.ledger[eventID] = ev
	return true, ev, nil
}

func (m *mockWebhookStore) SetWebhookEventBusiness(ctx context.Context, eventID string, businessID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backfills = append(m.backfills, eventID)
	if ev, ok := m.ledger[eventID]; ok && ev.BusinessID == nil {
		ev.BusinessID = &businessID
	}
	return nil
}

func (m *mockWebhookStore) GetBusinessByStripeCustomerID(ctx context.Context, customerID string) (*domain.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.business == nil || m.business.StripeCustomerID != customerID {
		return nil, domain.ErrBusinessNotFound
	}
	b := *m.business
	return &b, nil
}

func (m *mockWebhookStore) UpdateSubscription(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus, usageLimit int, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptionUpdates = append(m.subscriptionUpdates, subscriptionUpdate{
		businessID:     id,
		status:         status,
		usageLimit:     usageLimit,
		subscriptionID: subscriptionID,
	})
	return nil
}

func (m *mockWebhookStore) ResetUsage(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usageResets++
	return nil
}

func (m *mockWebhookStore) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscriptionUpdates)
}

func testBusiness(customerID string) *domain.Business {
	return &domain.Business{
		ID:                 uuid.New(),
		StripeCustomerID:   customerID,
		SubscriptionID:     "sub_123",
		SubscriptionStatus: domain.SubscriptionStatusActive,
		UsageCount:         42,
		UsageLimit:         500,
	}
}

// =============================================================================
// ProcessEvent Tests
// =============================================================================

func TestProcessEvent_SubscriptionTransitions(t *testing.T) {
	tests := []struct {
		name       string
		event      BillingEvent
		wantStatus domain.SubscriptionStatus
		wantLimit  int
		wantSubID  string
	}{
		{
			name: "subscription created active",
			event: BillingEvent{
				EventID:            "evt_1",
				EventType:          EventSubscriptionCreated,
				CustomerID:         "cus_1",
				SubscriptionID:     "sub_new",
				SubscriptionStatus: domain.SubscriptionStatusActive,
			},
			wantStatus: domain.SubscriptionStatusActive,
			wantLimit:  500,
			wantSubID:  "sub_new",
		},
		{
			name: "subscription updated to trial",
			event: BillingEvent{
				EventID:            "evt_2",
				EventType:          EventSubscriptionUpdated,
				CustomerID:         "cus_1",
				SubscriptionID:     "sub_123",
				SubscriptionStatus: domain.SubscriptionStatusTrial,
			},
			wantStatus: domain.SubscriptionStatusTrial,
			wantLimit:  25,
			wantSubID:  "sub_123",
		},
		{
			name: "subscription deleted",
			event: BillingEvent{
				EventID:    "evt_3",
				EventType:  EventSubscriptionDeleted,
				CustomerID: "cus_1",
			},
			wantStatus: domain.SubscriptionStatusCancelled,
			wantLimit:  0,
			wantSubID:  "",
		},
		{
			name: "payment failed gates sends",
			event: BillingEvent{
				EventID:    "evt_4",
				EventType:  EventPaymentFailed,
				CustomerID: "cus_1",
			},
			wantStatus: domain.SubscriptionStatusPastDue,
			wantLimit:  0,
			wantSubID:  "sub_123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockWebhookStore(testBusiness("cus_1"))
			svc := NewWebhookService(store, domain.DefaultPlanLimits, testLogger())

			if err := svc.ProcessEvent(context.Background(), tt.event); err != nil {
				t.Fatalf("ProcessEvent() error = %v", err)
			}
			if len(store.subscriptionUpdates) != 1 {
				t.Fatalf("subscription updates = %d, want 1", len(store.subscriptionUpdates))
			}
			got := store.subscriptionUpdates[0]
			if got.status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.status, tt.wantStatus)
			}
			if got.usageLimit != tt.wantLimit {
				t.Errorf("usage limit = %d, want %d", got.usageLimit, tt.wantLimit)
			}
			if got.subscriptionID != tt.wantSubID {
				t.Errorf("subscription ID = %q, want %q", got.subscriptionID, tt.wantSubID)
			}
		})
	}
}

func TestProcessEvent_DuplicateIsNoOp(t *testing.T) {
	store := newMockWebhookStore(testBusiness("cus_1"))
	svc := NewWebhookService(store, domain.DefaultPlanLimits, testLogger())

	event := BillingEvent{
		EventID:            "evt_dup",
		EventType:          EventSubscriptionUpdated,
		CustomerID:         "cus_1",
		SubscriptionID:     "sub_123",
		SubscriptionStatus: domain.SubscriptionStatusActive,
	}

	if err := svc.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("first ProcessEvent() error = %v", err)
	}
	if err := svc.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("duplicate ProcessEvent() error = %v", err)
	}

	if got := store.updateCount(); got != 1 {
		t.Errorf("subscription updates = %d, want 1 (duplicate must not reapply)", got)
	}
}

// TestProcessEvent_ConcurrentDeliveriesApplyOnce races several deliveries
// of the same event, as happens when the billing provider retries before
// the first delivery finishes.
func TestProcessEvent_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	store := newMockWebhookStore(testBusiness("cus_1"))
	svc := NewWebhookService(store, domain.DefaultPlanLimits, testLogger())

	event := BillingEvent{
		EventID:       "evt_race",
		EventType:     EventPaymentSucceeded,
		CustomerID:    "cus_1",
		BillingReason: "subscription_cycle",
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.ProcessEvent(context.Background(), event); err != nil {
				t.Errorf("ProcessEvent() error = %v", err)
			}
		}()
	}
	wg.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.usageResets != 1 {
		t.Errorf("usage resets = %d, want exactly 1", store.usageResets)
	}
	if len(store.subscriptionUpdates) != 1 {
		t.Errorf("subscription updates = %d, want exactly 1", len(store.subscriptionUpdates))
	}
}

func TestProcessEvent_UsageResetOnlyOnBillingCycle(t *testing.T) {
	tests := []struct {
		name          string
		billingReason string
		wantResets    int
	}{
		{name: "new billing period", billingReason: "subscription_cycle", wantResets: 1},
		{name: "initial subscription invoice", billingReason: "subscription_create", wantResets: 0},
		{name: "manual invoice", billingReason: "manual", wantResets: 0},
		{name: "no billing reason", billingReason: "", wantResets: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockWebhookStore(testBusiness("cus_1"))
			svc := NewWebhookService(store, domain.DefaultPlanLimits, testLogger())

			err := svc.ProcessEvent(context.Background(), BillingEvent{
				EventID:       "evt_pay",
				EventType:     EventPaymentSucceeded,
				CustomerID:    "cus_1",
				BillingReason: tt.billingReason,
			})
			if err != nil {
				t.Fatalf("ProcessEvent() error = %v", err)
			}
			if store.usageResets != tt.wantResets {
				t.Errorf("usage resets = %d, want %d", store.usageResets, tt.wantResets)
			}
			// Payment success always reactivates, reset or not.
			if len(store.subscriptionUpdates) != 1 || store.subscriptionUpdates[0].status != domain.SubscriptionStatusActive {
				t.Errorf("subscription updates = %+v, want one active transition", store.subscriptionUpdates)
			}
		})
	}
}

func TestProcessEvent_UnknownCustomerRecordedAndSkipped(t *testing.T) {
	store := newMockWebhookStore(testBusiness("cus_known"))
	svc := NewWebhookService(store, domain.DefaultPlanLimits, testLogger())

	event := BillingEvent{
		EventID:    "evt_stranger",
		EventType:  EventPaymentFailed,
		CustomerID: "cus_stranger",
	}

	if err := svc.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if got := store.updateCount(); got != 0 {
		t.Errorf("subscription updates = %d, want 0", got)
	}
	// The ledger keeps the record, so a redelivery is a duplicate and
	// will not re-attempt resolution either.
	if _, ok := store.ledger[event.EventID]; !ok {
		t.Error("event missing from ledger")
	}
	if err := svc.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("redelivery ProcessEvent() error = %v", err)
	}
}

func TestProcessEvent_BackfillsLedgerBusiness(t *testing.T) {
	business := testBusiness("cus_1")
	store := newMockWebhookStore(business)
	svc := NewWebhookService(store, domain.DefaultPlanLimits, testLogger())

	err := svc.ProcessEvent(context.Background(), BillingEvent{
		EventID:            "evt_fill",
		EventType:          EventSubscriptionUpdated,
		CustomerID:         "cus_1",
		SubscriptionID:     "sub_123",
		SubscriptionStatus: domain.SubscriptionStatusActive,
	})
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}

	ev := store.ledger["evt_fill"]
	if ev.BusinessID == nil || *ev.BusinessID != business.ID {
		t.Errorf("ledger business = %v, want %s", ev.BusinessID, business.ID)
	}
}

func TestProcessEvent_UnknownStatusIgnored(t *testing.T) {
	store := newMockWebhookStore(testBusiness("cus_1"))
	svc := NewWebhookService(store, domain.DefaultPlanLimits, testLogger())

	err := svc.ProcessEvent(context.Background(), BillingEvent{
		EventID:            "evt_odd",
		EventType:          EventSubscriptionUpdated,
		CustomerID:         "cus_1",
		SubscriptionStatus: domain.SubscriptionStatus("paused"),
	})
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if got := store.updateCount(); got != 0 {
		t.Errorf("subscription updates = %d, want 0 for unknown status", got)
	}
}

func TestProcessEvent_EmptyEventID(t *testing.T) {
	store := newMockWebhookStore(testBusiness("cus_1"))
	svc := NewWebhookService(store, domain.DefaultPlanLimits, testLogger())

	err := svc.ProcessEvent(context.Background(), BillingEvent{EventType: EventPaymentFailed})
	if domain.ErrorCode(err) != domain.EINVALID {
		t.Errorf("error code = %s, want %s", domain.ErrorCode(err), domain.EINVALID)
	}
}
