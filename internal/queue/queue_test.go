package queue

import (
	"encoding/json"
	"testing"
)

func TestDecodeDelivery(t *testing.T) {
	raw := `{"job_id":"job-1","attempt":2,"handle":"h-1"}`
	d, err := decodeDelivery(raw)
	if err != nil {
		t.Fatalf("decodeDelivery error: %v", err)
	}
	if d.JobID != "job-1" || d.Attempt != 2 || d.Handle != "h-1" {
		t.Fatalf("delivery = %+v", d)
	}
	if d.Raw() != raw {
		t.Fatalf("raw = %q", d.Raw())
	}
}

func TestDecodeDeliveryRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "garbage"},
		{"missing job id", `{"attempt":1}`},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeDelivery(tt.raw); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDeliveryEnvelopeRoundTrip(t *testing.T) {
	d := Delivery{JobID: "job-9", Attempt: 1, Handle: "handle-9"}
	payload, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := decodeDelivery(string(payload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.JobID != d.JobID || back.Attempt != d.Attempt || back.Handle != d.Handle {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}
