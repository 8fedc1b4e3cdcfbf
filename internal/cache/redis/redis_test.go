package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

func TestKeys(t *testing.T) {
	if got := priceKey("BTCUSDT"); got != "price:BTCUSDT" {
		t.Errorf("priceKey() = %q", got)
	}
	if got := lockKey("reconciler"); got != "lock:reconciler" {
		t.Errorf("lockKey() = %q", got)
	}
}

func TestParsePriceHash(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	price, got, err := parsePriceHash(map[string]string{
		"price": "61250.125",
		"ts":    "1777636800000000000",
	})
	if err != nil {
		t.Fatalf("parsePriceHash() error = %v", err)
	}
	if price.String() != "61250.125" || !got.Equal(ts) {
		t.Errorf("parsePriceHash() = %s, %v", price, got)
	}

	if _, _, err := parsePriceHash(map[string]string{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("empty hash error = %v, want ErrNotFound", err)
	}
	if _, _, err := parsePriceHash(map[string]string{"price": "0"}); !errors.Is(err, domain.ErrInvalidPrice) {
		t.Errorf("zero price error = %v, want ErrInvalidPrice", err)
	}
	if _, _, err := parsePriceHash(map[string]string{"price": "1", "ts": "soon"}); err == nil {
		t.Error("bad ts accepted")
	}
}

func TestHasPattern(t *testing.T) {
	if hasPattern(domain.ChannelEvents) {
		t.Errorf("%q treated as a pattern", domain.ChannelEvents)
	}
	if !hasPattern("trailstop:*") {
		t.Error("glob not treated as a pattern")
	}
}

func TestPayloadBytes(t *testing.T) {
	if b, ok := payloadBytes("x"); !ok || string(b) != "x" {
		t.Error("string payload")
	}
	if b, ok := payloadBytes([]byte("y")); !ok || string(b) != "y" {
		t.Error("bytes payload")
	}
	if _, ok := payloadBytes(42); ok {
		t.Error("int payload accepted")
	}
}
