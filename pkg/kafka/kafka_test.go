package kafka

import (
	"context"
	"testing"
	"time"
)

func TestDecodeJSON(t *testing.T) {
	type impression struct {
		EventType string         `json:"eventType"`
		Metadata  map[string]any `json:"metadata"`
	}
	got, err := DecodeJSON[impression]([]byte(`{"eventType":"IMPRESSION","metadata":{"cache":true}}`))
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if got.EventType != "IMPRESSION" || got.Metadata["cache"] != true {
		t.Errorf("unexpected decode: %+v", got)
	}

	if _, err := DecodeJSON[impression]([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestDialAnyWithoutBrokers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := dialAny(ctx, nil); err == nil {
		t.Error("expected an error with no brokers")
	}
}
