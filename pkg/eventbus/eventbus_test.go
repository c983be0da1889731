package eventbus

import (
	"encoding/json"
	"testing"
)

type testEvent struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

func TestPublishNilBusIsNoop(t *testing.T) {
	if err := Publish[testEvent](nil, "any.subject", testEvent{Name: "x"}); err != nil {
		t.Fatalf("expected nil-bus Publish to be a no-op, got %v", err)
	}
}

func TestPublishUnconnectedBusIsNoop(t *testing.T) {
	b := &Bus{}
	if err := Publish(b, "any.subject", testEvent{Name: "x"}); err != nil {
		t.Fatalf("expected unconnected Publish to be a no-op, got %v", err)
	}
}

func TestCloseNilBusIsNoop(t *testing.T) {
	var b *Bus
	b.Close() // must not panic
}

func TestCloseUnconnectedBusIsNoop(t *testing.T) {
	b := &Bus{}
	b.Close() // must not panic
}

func TestPublishSerializesJSON(t *testing.T) {
	ev := testEvent{Name: "digest.published", Score: 7}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}

	var decoded testEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Name != ev.Name || decoded.Score != ev.Score {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", decoded, ev)
	}
}

func TestSubscribeHandlerDropsMalformedPayload(t *testing.T) {
	// Subscribe's handler unmarshals into T and returns without invoking the
	// caller's handler on failure; exercise that unmarshal failure directly.
	var v testEvent
	if err := json.Unmarshal([]byte("{not json"), &v); err == nil {
		t.Fatal("expected malformed payload to fail to unmarshal")
	}
}
