package broadcast

import (
	"encoding/json"
	"testing"
	"time"

	"bourse/internal/types"
)

func newTestClient(channels ...string) *Client {
	subs := make(map[string]bool, len(channels))
	for _, ch := range channels {
		subs[ch] = true
	}
	return &Client{
		send:          make(chan []byte, 64),
		id:            "test-client",
		subscriptions: subs,
	}
}

func attach(h *Hub, c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func TestPublishSnapshot_DropsBeyondRateCap(t *testing.T) {
	h := NewHub()
	client := newTestClient(ChannelSnapshots)
	attach(h, client)

	snap := types.MarketSnapshot{InterestRate: 1.0, Timestamp: time.Now()}
	for i := 0; i < 20; i++ {
		h.PublishSnapshot(snap)
	}

	// The burst arrives far faster than the per-second cap refills, so all
	// but the first publication (plus at most one refill) are dropped.
	if got := len(client.send); got < 1 || got > 2 {
		t.Fatalf("burst of 20 snapshots delivered %d frames, want 1", got)
	}
}

func TestPublishTrade_Unthrottled(t *testing.T) {
	h := NewHub()
	client := newTestClient(ChannelTrades)
	attach(h, client)

	for i := 0; i < 10; i++ {
		h.PublishTrade(types.Trade{TradeID: "t", Symbol: "ACME", Price: 100, Quantity: 1})
	}
	if got := len(client.send); got != 10 {
		t.Fatalf("10 trades delivered %d frames, want 10", got)
	}

	var msg Message
	if err := json.Unmarshal(<-client.send, &msg); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if msg.Channel != ChannelTrades {
		t.Errorf("frame channel = %q, want %q", msg.Channel, ChannelTrades)
	}
}

func TestBroadcast_RespectsSubscriptions(t *testing.T) {
	h := NewHub()
	client := newTestClient(ChannelTrades)
	attach(h, client)

	h.PublishSnapshot(types.MarketSnapshot{InterestRate: 1.0})
	if got := len(client.send); got != 0 {
		t.Fatalf("snapshot reached a trades-only subscriber, %d frames", got)
	}
	h.PublishTrade(types.Trade{TradeID: "t", Symbol: "ACME"})
	if got := len(client.send); got != 1 {
		t.Fatalf("trade not delivered, %d frames", got)
	}

	client.unsubscribe(ChannelTrades)
	h.PublishTrade(types.Trade{TradeID: "t2", Symbol: "ACME"})
	if got := len(client.send); got != 1 {
		t.Fatalf("trade delivered after unsubscribe, %d frames", got)
	}
}
