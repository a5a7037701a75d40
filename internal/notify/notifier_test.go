package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/CHINGBOH/medical-beauty-crm-landing-sub001/internal/domain"
)

func TestLogNotifierEmitsEventFields(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	appt := domain.Appointment{
		ID:      7,
		StaffID: "staff-1",
		Status:  domain.StatusPending,
		StartAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
	}
	n.AppointmentCreated(context.Background(), appt)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log record: %v", err)
	}
	if record["event"] != EventAppointmentCreated {
		t.Errorf("event = %v, want %q", record["event"], EventAppointmentCreated)
	}
	if record["event_id"] == "" || record["event_id"] == nil {
		t.Error("event_id missing")
	}
	if record["appointment_id"] != float64(7) {
		t.Errorf("appointment_id = %v, want 7", record["appointment_id"])
	}
	if record["component"] != "notify" {
		t.Errorf("component = %v, want notify", record["component"])
	}
}

func TestLogNotifierEventIDsAreUnique(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	ctx := context.Background()
	n.AppointmentUpdated(ctx, domain.Appointment{ID: 1})
	n.AppointmentUpdated(ctx, domain.Appointment{ID: 1})

	dec := json.NewDecoder(&buf)
	ids := map[string]bool{}
	for dec.More() {
		var record map[string]any
		if err := dec.Decode(&record); err != nil {
			t.Fatalf("decode log record: %v", err)
		}
		id, _ := record["event_id"].(string)
		if id == "" {
			t.Fatal("event_id missing")
		}
		ids[id] = true
	}
	if len(ids) != 2 {
		t.Errorf("distinct event ids = %d, want 2", len(ids))
	}
}
