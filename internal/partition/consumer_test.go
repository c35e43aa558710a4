package partition

import (
	"testing"

	"github.com/oriys/alarmgen/internal/bus"
)

func TestHandleRecordAssertAndWithdraw(t *testing.T) {
	c := NewConsumer(0, nil, 1000)

	c.handleRecord(bus.Record{
		Key:   "virtual-network:vn01|UveVirtualNetworkAgent|src:node:mod:0|collector-a",
		Value: []byte(`{"@type":"struct","x":{"@type":"string","#text":"DOWN"}}`),
	})

	if len(c.Index.Keys()) != 1 {
		t.Fatalf("expected 1 key, got %d", len(c.Index.Keys()))
	}
	drained := c.Changes.Drain()
	if len(drained) != 1 {
		t.Fatalf("expected 1 changed key, got %d", len(drained))
	}

	c.handleRecord(bus.Record{
		Key:   "virtual-network:vn01|UveVirtualNetworkAgent|src:node:mod:0|collector-a",
		Value: nil,
	})
	if len(c.Index.Keys()) != 0 {
		t.Fatalf("expected key removed after withdrawal, got %d", len(c.Index.Keys()))
	}
}

func TestHandleRecordPoisonPayloadSkipped(t *testing.T) {
	c := NewConsumer(0, nil, 1000)
	c.handleRecord(bus.Record{
		Key:   "virtual-network:vn01|UveVirtualNetworkAgent|src:node:mod:0|collector-a",
		Value: []byte(`not json`),
	})
	if len(c.Index.Keys()) != 0 {
		t.Fatalf("expected poison payload to be skipped, got %d keys", len(c.Index.Keys()))
	}
}
