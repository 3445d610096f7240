package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/channelcore-backend/pkg/config"
)

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "demo"}

	if got := c.resourceName("subscriptions", "ota-reservations"); got != "projects/demo/subscriptions/ota-reservations" {
		t.Fatalf("unexpected subscription name %q", got)
	}
	full := "projects/other/subscriptions/x"
	if got := c.resourceName("subscriptions", full); got != full {
		t.Fatalf("full names must pass through, got %q", got)
	}
	if got := c.resourceName("topics", full); got == full {
		t.Fatalf("a subscription path is not a topic path, got %q", got)
	}
	if got := c.resourceName("topics", "channelcore-alerts"); got != "projects/demo/topics/channelcore-alerts" {
		t.Fatalf("unexpected topic name %q", got)
	}
	if got := c.resourceName("topics", " "); got != "" {
		t.Fatalf("blank names resolve to empty, got %q", got)
	}
	if got := (&Client{}).resourceName("topics", "t"); got != "" {
		t.Fatalf("no project means no name, got %q", got)
	}
}

func TestSubscriptionNamesSkipsBlank(t *testing.T) {
	if names := subscriptionNames(config.PubSubConfig{}); len(names) != 0 {
		t.Fatalf("expected no subscriptions, got %v", names)
	}
	names := subscriptionNames(config.PubSubConfig{ReservationsSubscription: " ota ", SyncRequestsSubscription: "sync"})
	if len(names) != 2 || names[0] != "ota" || names[1] != "sync" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("t") != nil || c.ReservationsSubscription() != nil || c.OrderedDelivery() {
		t.Fatal("nil client must return zero values")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.EnsureTopics(context.Background(), "t"); err != errNotInitialized {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if _, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{}, nil); err != errProjectIDRequired {
		t.Fatalf("expected project error, got %v", err)
	}
}
