package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestNew_AutoDimension(t *testing.T) {
	initOnce.Do(func() {})
	functionName = "process-lambda"
	defer func() { functionName = "" }()

	r := New("TestNamespace")
	if r.namespace != "TestNamespace" {
		t.Errorf("expected namespace TestNamespace, got %s", r.namespace)
	}
	if r.dimensions["FunctionName"] != "process-lambda" {
		t.Errorf("expected FunctionName dimension process-lambda, got %s", r.dimensions["FunctionName"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	initOnce.Do(func() {})
	functionName = ""

	var buf bytes.Buffer
	Ticket("transcribe").
		WithOutput(&buf).
		Metric("ModelLatencyMs", 1234.5, UnitMilliseconds).
		Metric("Recordings", 3, UnitCount).
		Property("ticketId", "abc-123").
		Flush()

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse EMF output as JSON: %v\nOutput: %s", err, buf.String())
	}

	awsMap, ok := doc["_aws"].(map[string]interface{})
	if !ok {
		t.Fatal("missing _aws directive in EMF output")
	}
	if _, ok := awsMap["Timestamp"]; !ok {
		t.Error("missing Timestamp in _aws directive")
	}
	cwArr, ok := awsMap["CloudWatchMetrics"].([]interface{})
	if !ok || len(cwArr) == 0 {
		t.Fatal("CloudWatchMetrics should be a non-empty array")
	}
	cw := cwArr[0].(map[string]interface{})
	if cw["Namespace"] != Namespace {
		t.Errorf("expected namespace %s, got %v", Namespace, cw["Namespace"])
	}
	metricsArr := cw["Metrics"].([]interface{})
	if first := metricsArr[0].(map[string]interface{}); first["Name"] != "ModelLatencyMs" {
		t.Errorf("expected metrics sorted by name, first=%v", first["Name"])
	}

	if doc["Operation"] != "transcribe" {
		t.Errorf("expected Operation=transcribe, got %v", doc["Operation"])
	}
	if doc["ModelLatencyMs"] != 1234.5 {
		t.Errorf("expected ModelLatencyMs=1234.5, got %v", doc["ModelLatencyMs"])
	}
	if doc["Recordings"] != float64(3) {
		t.Errorf("expected Recordings=3, got %v", doc["Recordings"])
	}
	if doc["ticketId"] != "abc-123" {
		t.Errorf("expected ticketId=abc-123, got %v", doc["ticketId"])
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	var buf bytes.Buffer
	New("Test").WithOutput(&buf).Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output for empty recorder, got: %s", buf.String())
	}
}

func TestRecorder_Chaining(t *testing.T) {
	functionName = ""
	rec := New("Test").
		Dimension("Op", "test").
		Metric("Duration", 100, UnitMilliseconds).
		Count("Calls").
		Since("Elapsed", time.Now()).
		Property("id", "xyz")

	if rec.dimensions["Op"] != "test" {
		t.Error("chaining Dimension failed")
	}
	if rec.values["Duration"] != float64(100) {
		t.Error("chaining Metric failed")
	}
	if m := rec.metrics["Calls"]; m.Unit != UnitCount || rec.values["Calls"] != float64(1) {
		t.Errorf("chaining Count failed: %+v", m)
	}
	if m := rec.metrics["Elapsed"]; m.Unit != UnitMilliseconds {
		t.Errorf("chaining Since failed: %+v", m)
	}
	if rec.properties["id"] != "xyz" {
		t.Error("chaining Property failed")
	}
}
