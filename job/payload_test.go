package job_test

import (
	"errors"
	"testing"

	"github.com/xraph/outbox/job"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload job.Payload
		wantErr bool
	}{
		{"fulfillment ok", job.CreateFulfillment{OrderID: "O1", LineItems: []job.LineItem{{ID: "li1", Quantity: 1}}}, false},
		{"fulfillment no order", job.CreateFulfillment{LineItems: []job.LineItem{{ID: "li1", Quantity: 1}}}, true},
		{"fulfillment no lines", job.CreateFulfillment{OrderID: "O1"}, true},
		{"fulfillment zero qty", job.CreateFulfillment{OrderID: "O1", LineItems: []job.LineItem{{ID: "li1"}}}, true},
		{"label ok", job.CreateLabel{OrderID: "O1"}, false},
		{"label no order", job.CreateLabel{}, true},
		{"label negative weight", job.CreateLabel{OrderID: "O1", WeightGrams: -1}, true},
		{"void ok", job.VoidLabel{LabelID: "L1"}, false},
		{"void no label", job.VoidLabel{OrderID: "O1"}, true},
		{"inventory ok", job.InventoryAdjust{InventoryItemID: "i1", LocationID: "loc1", Delta: -2}, false},
		{"inventory zero delta", job.InventoryAdjust{InventoryItemID: "i1", LocationID: "loc1"}, true},
		{"inventory no location", job.InventoryAdjust{InventoryItemID: "i1", Delta: 1}, true},
		{"event ok", job.EventLog{Event: "label.printed"}, false},
		{"event empty", job.EventLog{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				if !errors.Is(err, job.ErrInvalidPayload) {
					t.Errorf("Validate() = %v, want ErrInvalidPayload", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	p, err := job.DecodePayload(job.TypeCreateLabel, []byte(`{"orderId":"O1"}`))
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	label, ok := p.(*job.CreateLabel)
	if !ok {
		t.Fatalf("payload type = %T, want *job.CreateLabel", p)
	}
	if label.OrderID != "O1" {
		t.Errorf("OrderID = %q, want O1", label.OrderID)
	}

	if _, err := job.DecodePayload("print_receipt", []byte(`{}`)); !errors.Is(err, job.ErrInvalidPayload) {
		t.Errorf("unknown type err = %v, want ErrInvalidPayload", err)
	}
	if _, err := job.DecodePayload(job.TypeVoidLabel, []byte(`{}`)); !errors.Is(err, job.ErrInvalidPayload) {
		t.Errorf("missing field err = %v, want ErrInvalidPayload", err)
	}
}

func TestEncodePayload(t *testing.T) {
	raw, err := job.EncodePayload(job.VoidLabel{LabelID: "L1"})
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	if string(raw) != `{"labelId":"L1"}` {
		t.Errorf("raw = %s", raw)
	}
	if _, err := job.EncodePayload(nil); !errors.Is(err, job.ErrInvalidPayload) {
		t.Errorf("nil payload err = %v", err)
	}
}
