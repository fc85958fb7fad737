package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/xraph/outbox/job"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := job.NewRegistry()

	var got job.CreateLabel
	def := job.NewDefinition(func(_ context.Context, p job.CreateLabel) (*job.LabelResult, error) {
		got = p
		return &job.LabelResult{LabelID: "lbl_1", TrackingNumber: "1Z999"}, nil
	})
	if def.Type != job.TypeCreateLabel {
		t.Fatalf("definition type = %q, want %q", def.Type, job.TypeCreateLabel)
	}

	job.RegisterDefinition(r, def)

	h, ok := r.Get(job.TypeCreateLabel)
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	out, err := h(context.Background(), []byte(`{"orderId":"O1","carrier":"ups"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OrderID != "O1" || got.Carrier != "ups" {
		t.Errorf("payload = %+v", got)
	}

	var res job.LabelResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if res.TrackingNumber != "1Z999" {
		t.Errorf("TrackingNumber = %q, want %q", res.TrackingNumber, "1Z999")
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := job.NewRegistry()
	if _, ok := r.Get(job.TypeVoidLabel); ok {
		t.Fatal("expected no handler for unregistered type")
	}
}

func TestRegistry_Types(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition(func(_ context.Context, _ job.VoidLabel) (job.VoidResult, error) {
		return job.VoidResult{Success: true}, nil
	}))
	job.RegisterDefinition(r, job.NewDefinition(func(_ context.Context, _ job.EventLog) (job.EventLogResult, error) {
		return job.EventLogResult{Logged: true}, nil
	}))

	types := r.Types()
	if len(types) != 2 || types[0] != job.TypeEventLog || types[1] != job.TypeVoidLabel {
		t.Errorf("Types() = %v", types)
	}
}

func TestRegistry_InvalidPayloadNeverReachesHandler(t *testing.T) {
	r := job.NewRegistry()
	called := false
	job.RegisterDefinition(r, job.NewDefinition(func(_ context.Context, _ job.VoidLabel) (job.VoidResult, error) {
		called = true
		return job.VoidResult{Success: true}, nil
	}))

	h, _ := r.Get(job.TypeVoidLabel)

	tests := []struct {
		name    string
		payload string
	}{
		{"malformed json", `{"labelId":`},
		{"missing label id", `{"orderId":"O1"}`},
		{"unknown field", `{"labelId":"L1","bogus":true}`},
		{"empty", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h(context.Background(), []byte(tt.payload))
			if !errors.Is(err, job.ErrInvalidPayload) {
				t.Errorf("err = %v, want ErrInvalidPayload", err)
			}
		})
	}
	if called {
		t.Error("handler ran for an invalid payload")
	}
}

func TestRegistry_HandlerErrorPassesThrough(t *testing.T) {
	r := job.NewRegistry()
	boom := errors.New("503 Service Unavailable")
	job.RegisterDefinition(r, job.NewDefinition(func(_ context.Context, _ job.CreateLabel) (*job.LabelResult, error) {
		return nil, boom
	}))

	h, _ := r.Get(job.TypeCreateLabel)
	if _, err := h(context.Background(), []byte(`{"orderId":"O1"}`)); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}
