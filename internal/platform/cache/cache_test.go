package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unreachable returns a client pointed at a closed port with retries off.
func unreachable() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
}

func TestMeasureCache_Key(t *testing.T) {
	c := NewMeasureCache(nil, 0)
	id := uuid.MustParse("5f0c6e1e-8a53-4c8e-9d0a-0c2b7f1f4a11")
	if got := c.key("clinic_a", id); got != "measure:clinic_a:5f0c6e1e-8a53-4c8e-9d0a-0c2b7f1f4a11" {
		t.Errorf("unexpected key %q", got)
	}
	if c.ttl != defaultMeasureTTL {
		t.Errorf("expected default ttl, got %v", c.ttl)
	}
}

func TestMeasureCache_Unreachable(t *testing.T) {
	client := unreachable()
	defer client.Close()
	c := NewMeasureCache(client, time.Minute)

	d, err := c.GetDefinition(context.Background(), "clinic_a", uuid.New())
	if err == nil || d != nil {
		t.Fatalf("expected connection error, got %v %v", d, err)
	}
}

func TestLocker_Key(t *testing.T) {
	l := NewLocker(nil)
	if got := l.key("sweep:flags:clinic_a"); got != "lock:sweep:flags:clinic_a" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestLocker_Unreachable(t *testing.T) {
	client := unreachable()
	defer client.Close()
	l := NewLocker(client)

	ok, token, err := l.TryLock(context.Background(), "sweep", time.Second)
	if err == nil || ok || token != "" {
		t.Fatalf("expected error without lock, got %v %q %v", ok, token, err)
	}
}

func TestNewClient_BadURL(t *testing.T) {
	if _, err := NewClient(context.Background(), "not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}
