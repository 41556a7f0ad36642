//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// Integration tests require a running broker at 127.0.0.1:1883.
//
// Run with:
//
//	go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_PublishSubscribeRoundtrip(t *testing.T) {
	c, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // Test cleanup

	received := make(chan string, 1)
	topic := Topics{}.ResourceSet("integration/value")
	if err := c.Subscribe(Topics{}.AllResourceSets(), 1, func(topic string, payload []byte) error {
		path, _ := Topics{}.PathFromSetTopic(topic)
		received <- path + "=" + string(payload)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if c.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", c.SubscriptionCount())
	}

	if err := c.Publish(topic, []byte(`{"value":1}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `integration/value={"value":1}` {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	if err := c.Unsubscribe(Topics{}.AllResourceSets()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 1
	if _, err := Connect(cfg); err == nil {
		t.Error("Connect() to a closed port should fail")
	}
}
