package steps

import (
	"context"
	"strconv"
	"testing"

	"github.com/orderflow/orderflow/pkg/saga"
	"github.com/orderflow/orderflow/pkg/services"
)

func TestPaymentStep_Execute(t *testing.T) {
	svc := services.NewMemoryPaymentService()
	step := NewPaymentStep(svc)
	ord := testOrder()
	sc := saga.NewContext("exec-1", ord, "pm-1", "addr")

	result := step.Execute(context.Background(), sc)
	if !result.Success {
		t.Fatalf("expected success, got %s: %s", result.ErrorCode, result.ErrorMessage)
	}

	authorizationID, ok := saga.Get(sc, KeyAuthorizationID)
	if !ok || authorizationID == "" {
		t.Fatal("expected authorization id in context")
	}
	amount, _ := saga.Get(sc, KeyAmountCents)
	if amount != ord.TotalCents {
		t.Errorf("expected held amount %d, got %d", ord.TotalCents, amount)
	}
	held, ok := svc.AuthorizedAmount(authorizationID)
	if !ok || held != ord.TotalCents {
		t.Errorf("expected service hold of %d, got %d", ord.TotalCents, held)
	}

	if result.Data[KeyAmountCents.Name()] != strconv.FormatInt(ord.TotalCents, 10) {
		t.Errorf("expected amount persisted as string, got %v", result.Data)
	}
	if result.Data[KeyPaymentMethodID.Name()] != "pm-1" {
		t.Errorf("expected payment method persisted, got %v", result.Data)
	}
}

func TestPaymentStep_Execute_DeclinedPropagatesCode(t *testing.T) {
	svc := services.NewMemoryPaymentService()
	svc.FailAuthorizeWith = &services.ServiceError{Service: "payment", Code: "CARD_EXPIRED", Message: "card expired"}
	step := NewPaymentStep(svc)
	sc := saga.NewContext("exec-1", testOrder(), "pm-1", "addr")

	result := step.Execute(context.Background(), sc)
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.ErrorCode != "CARD_EXPIRED" {
		t.Errorf("expected service error code, got %q", result.ErrorCode)
	}
}

func TestPaymentStep_Execute_EmptyPaymentMethod(t *testing.T) {
	step := NewPaymentStep(services.NewMemoryPaymentService())
	sc := saga.NewContext("exec-1", testOrder(), "", "addr")

	result := step.Execute(context.Background(), sc)
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.ErrorCode != "INVALID_PAYMENT_METHOD" {
		t.Errorf("expected INVALID_PAYMENT_METHOD, got %q", result.ErrorCode)
	}
}

func TestPaymentStep_Compensate(t *testing.T) {
	t.Run("voids the hold", func(t *testing.T) {
		svc := services.NewMemoryPaymentService()
		step := NewPaymentStep(svc)
		sc := saga.NewContext("exec-1", testOrder(), "pm-1", "addr")

		if result := step.Execute(context.Background(), sc); !result.Success {
			t.Fatalf("unexpected failure: %s", result.ErrorMessage)
		}
		authorizationID, _ := saga.Get(sc, KeyAuthorizationID)

		if result := step.Compensate(context.Background(), sc); !result.Success {
			t.Fatalf("expected compensation success, got %s", result.ErrorMessage)
		}
		if !svc.Voided(authorizationID) {
			t.Error("expected authorization to be voided")
		}
	})

	t.Run("no-op without authorization id", func(t *testing.T) {
		step := NewPaymentStep(services.NewMemoryPaymentService())
		sc := saga.NewContext("exec-1", testOrder(), "pm-1", "addr")

		if result := step.Compensate(context.Background(), sc); !result.Success {
			t.Errorf("expected no-op success, got %s", result.ErrorMessage)
		}
	})
}

func TestPaymentStep_RestoreContext(t *testing.T) {
	step := NewPaymentStep(services.NewMemoryPaymentService())

	t.Run("restores all fields", func(t *testing.T) {
		sc := saga.NewContext("exec-1", testOrder(), "", "")
		step.RestoreContext(sc, map[string]string{
			KeyAuthorizationID.Name(): "auth-42",
			KeyPaymentMethodID.Name(): "pm-9",
			KeyAmountCents.Name():     "12900",
		})

		if got, _ := saga.Get(sc, KeyAuthorizationID); got != "auth-42" {
			t.Errorf("expected authorization id, got %q", got)
		}
		if got, _ := saga.Get(sc, KeyPaymentMethodID); got != "pm-9" {
			t.Errorf("expected payment method, got %q", got)
		}
		if got, _ := saga.Get(sc, KeyAmountCents); got != 12900 {
			t.Errorf("expected amount 12900, got %d", got)
		}
	})

	t.Run("drops malformed amount", func(t *testing.T) {
		sc := saga.NewContext("exec-1", testOrder(), "", "")
		step.RestoreContext(sc, map[string]string{
			KeyAuthorizationID.Name(): "auth-42",
			KeyAmountCents.Name():     "not-a-number",
		})

		if sc.HasKey(KeyAmountCents.Name()) {
			t.Error("expected malformed amount to be dropped")
		}
		if !sc.HasKey(KeyAuthorizationID.Name()) {
			t.Error("expected valid fields to survive a malformed sibling")
		}
	})
}

func TestPaymentStep_EnrichResult(t *testing.T) {
	step := NewPaymentStep(services.NewMemoryPaymentService())
	sc := saga.NewContext("exec-1", testOrder(), "pm-1", "addr")
	saga.Put(sc, KeyAmountCents, int64(4200))

	result := &saga.SagaResult{}
	step.EnrichResult(sc, result)
	if result.TotalChargedCents != 4200 {
		t.Errorf("expected charged total 4200, got %d", result.TotalChargedCents)
	}

	// Nothing to report when the amount never made it into the context.
	empty := &saga.SagaResult{}
	step.EnrichResult(saga.NewContext("exec-2", testOrder(), "pm-1", "addr"), empty)
	if empty.TotalChargedCents != 0 {
		t.Errorf("expected zero charged total, got %d", empty.TotalChargedCents)
	}
}

func TestPaymentStep_Metadata(t *testing.T) {
	step := NewPaymentStep(services.NewMemoryPaymentService())
	if step.Name() != StepNamePayment || step.Order() != 2 {
		t.Errorf("unexpected metadata: %q order %d", step.Name(), step.Order())
	}
	keys := step.ProducedKeys()
	if len(keys) != 1 || keys[0] != KeyAuthorizationID.Name() {
		t.Errorf("unexpected produced keys: %v", keys)
	}
}
