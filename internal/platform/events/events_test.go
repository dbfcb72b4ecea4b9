package events

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

func TestEncode(t *testing.T) {
	at := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	payload := map[string]interface{}{"form_id": "abc", "total": "18"}

	msg, err := encode(payload, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.DeliveryMode != amqp.Persistent {
		t.Error("expected persistent delivery")
	}
	if msg.ContentType != contentTypeJSON || msg.MessageId == "" || !msg.Timestamp.Equal(at) {
		t.Errorf("unexpected message headers: %+v", msg)
	}
	var got map[string]string
	if err := json.Unmarshal(msg.Body, &got); err != nil || got["total"] != "18" {
		t.Errorf("unexpected body %s: %v", msg.Body, err)
	}
}

func TestEncode_Unmarshalable(t *testing.T) {
	if _, err := encode(make(chan int), time.Now()); err == nil {
		t.Fatal("expected encode error")
	}
}

func TestDisposition(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		redelivered bool
		want        outcome
	}{
		{"success", nil, false, ack},
		{"first failure", errors.New("db down"), false, requeue},
		{"second failure", errors.New("db down"), true, drop},
		{"poison", fmt.Errorf("decode: %w", ErrPoison), false, drop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := disposition(tt.err, tt.redelivered); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
