package health

import (
	"log/slog"
	"testing"
	"time"
)

func TestMonitor(t *testing.T) {
	m := NewMonitor(50*time.Millisecond, slog.Default())
	if !m.Healthy() {
		t.Fatal("fresh monitor should be healthy")
	}

	time.Sleep(80 * time.Millisecond)
	if m.Healthy() {
		t.Fatal("silent monitor should turn unhealthy past max downtime")
	}

	m.Beat()
	if !m.Healthy() {
		t.Fatal("heartbeat should restore health")
	}
}

func TestCircuitBreaker(t *testing.T) {
	b := NewCircuitBreaker(3, 50*time.Millisecond, slog.Default())

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("breaker should be closed before the threshold, failure %d", i)
		}
		b.Failure()
	}
	if b.Allow() {
		t.Fatal("breaker should be open at the threshold")
	}
	if !b.Open() {
		t.Fatal("Open should report the tripped state")
	}

	time.Sleep(80 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("cooldown elapsed, one probe should pass")
	}
	if b.Allow() {
		t.Fatal("only one probe per cooldown may pass")
	}

	b.Success()
	if !b.Allow() {
		t.Fatal("success should re-close the breaker")
	}
}
