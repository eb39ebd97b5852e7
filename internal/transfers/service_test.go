package transfers

import (
	"context"
	"errors"
	"strings"
	"testing"

	"mercato/internal/transfers/saga"

	"github.com/shopspring/decimal"
)

func TestSubmitValidation(t *testing.T) {
	cases := []struct {
		name string
		cmd  SubmitCommand
		want string
	}{
		{"missing player", SubmitCommand{FromOrgID: "2", ToOrgID: "3"}, "playerId is required"},
		{"blank from", SubmitCommand{PlayerID: "1", FromOrgID: "  ", ToOrgID: "3"}, "fromOrgId is required"},
		{"missing to", SubmitCommand{PlayerID: "1", FromOrgID: "2"}, "toOrgId is required"},
		{"same org", SubmitCommand{PlayerID: "1", FromOrgID: "2", ToOrgID: "2"}, "must differ"},
		{"negative fee", SubmitCommand{PlayerID: "1", FromOrgID: "2", ToOrgID: "3", TransferFee: decimal.NewFromInt(-1)}, "transferFee"},
		{"sub-cent fee", SubmitCommand{PlayerID: "1", FromOrgID: "2", ToOrgID: "3", TransferFee: decimal.RequireFromString("1.005")}, "decimal places"},
		{"fee too large", SubmitCommand{PlayerID: "1", FromOrgID: "2", ToOrgID: "3", TransferFee: decimal.New(1, 18)}, "must be below"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.service.Submit(context.Background(), tc.cmd)
			if !errors.Is(err, ErrInvalidTransfer) {
				t.Fatalf("expected ErrInvalidTransfer, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
			if sent := h.publisher.Sent(); len(sent) != 0 {
				t.Fatalf("nothing should be emitted for rejected submissions, got %+v", sent)
			}
		})
	}
}

func TestSubmitAcceptsStorableFees(t *testing.T) {
	for _, fee := range []string{"0", "1.5", "1.50", "1.500", "999999999999999999.99"} {
		h := newHarness(t)
		id, err := h.service.Submit(context.Background(), SubmitCommand{
			PlayerID: "1", FromOrgID: "2", ToOrgID: "3", TransferFee: decimal.RequireFromString(fee),
		})
		if err != nil || id == "" {
			t.Fatalf("fee %s: expected acceptance, got id=%q err=%v", fee, id, err)
		}
	}
}

func TestSubmitGeneratesUniqueIDs(t *testing.T) {
	h := newHarness(t)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id := h.submit(t)
		if seen[id] {
			t.Fatalf("duplicate saga id %s", id)
		}
		seen[id] = true
	}
}

func TestSubmitPublishFailureLeavesStartedRecord(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("bus down")

	id, err := h.service.Submit(context.Background(), SubmitCommand{PlayerID: "1", FromOrgID: "2", ToOrgID: "3", TransferFee: decimal.NewFromInt(5)})
	if err == nil {
		t.Fatalf("expected publish error")
	}
	if id == "" {
		t.Fatalf("expected the saga id alongside the error")
	}

	rec, err := h.service.Query(context.Background(), id)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if rec.State != saga.StateStarted {
		t.Fatalf("expected STARTED, got %s", rec.State)
	}
}

func TestQueryNotFound(t *testing.T) {
	h := newHarness(t)

	for _, id := range []string{"missing", " "} {
		if _, err := h.service.Query(context.Background(), id); !errors.Is(err, saga.ErrNotFound) {
			t.Fatalf("%q: expected ErrNotFound, got %v", id, err)
		}
	}
}
