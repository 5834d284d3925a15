package events

import "testing"

func TestTopic(t *testing.T) {
	if got := Topic("abc-123"); got != "notifications.abc-123" {
		t.Fatalf("Topic = %q, expected notifications.abc-123", got)
	}
}
