package metrics

import (
	"strings"
	"testing"
)

func TestNextRequestID_StrictlyIncreasing(t *testing.T) {
	r := New()
	prev := int64(0)
	for i := 0; i < 100; i++ {
		id := r.NextRequestID()
		if id <= prev {
			t.Fatalf("request id %d did not increase from %d", id, prev)
		}
		prev = id
	}
	if first := New().NextRequestID(); first != 1 {
		t.Errorf("first request id = %d, want 1", first)
	}
}

func TestRecordRPCCall_PerMethodCounters(t *testing.T) {
	r := New()
	r.RecordRPCCall("send", 12.5)
	r.RecordRPCCall("send", 8)
	r.RecordRPCCall("listGroups", 3)

	text := r.WriteText()
	if !strings.Contains(text, `signal_rpc_calls_total{method="send"} 2`) {
		t.Errorf("missing send=2 in output:\n%s", text)
	}
	if !strings.Contains(text, `signal_rpc_calls_total{method="listGroups"} 1`) {
		t.Errorf("missing listGroups=1 in output:\n%s", text)
	}
}

func TestRecordRPCError_IncrementsErrorCounter(t *testing.T) {
	r := New()
	r.RecordRPCError("send")
	r.RecordRPCError("send")

	text := r.WriteText()
	if !strings.Contains(text, `signal_rpc_errors_total{method="send"} 2`) {
		t.Errorf("missing send=2 error count in output:\n%s", text)
	}
}

func TestWriteText_IncludesFixedMetricSet(t *testing.T) {
	r := New()
	r.MessagesSent.Inc()
	r.WSClientsActive.Set(3)

	text := r.WriteText()
	for _, want := range []string{
		"signal_messages_sent_total 1",
		"signal_ws_clients_active 3",
		"signal_messages_received_total 0",
		"signal_webhook_deliveries_total 0",
		"signal_webhook_failures_total 0",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in output:\n%s", want, text)
		}
	}
}

func TestHistogram_BucketsAccumulate(t *testing.T) {
	r := New()
	r.RecordRPCCall("send", 3)
	r.RecordRPCCall("send", 60)
	r.RecordRPCCall("send", 6000)

	text := r.WriteText()
	if !strings.Contains(text, `signal_rpc_latency_ms_count{method="send"} 3`) {
		t.Errorf("expected count=3 in output:\n%s", text)
	}
	if !strings.Contains(text, `signal_rpc_latency_ms_bucket{method="send",le="+Inf"} 3`) {
		t.Errorf("expected +Inf bucket = 3 in output:\n%s", text)
	}
}
