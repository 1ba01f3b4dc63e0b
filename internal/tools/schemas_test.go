package tools

import (
	"encoding/json"
	"testing"
)

func TestMemoryPutRequestTTLWireForm(t *testing.T) {
	// TTL present
	req := MemoryPutRequest{
		Namespace:  "agents/alice/notes",
		Key:        "standup",
		Value:      map[string]interface{}{"text": "met with the team"},
		TTLMinutes: TTLField{Provided: true, Minutes: 30},
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal MemoryPutRequest: %v", err)
	}

	var jsonMap map[string]interface{}
	if err := json.Unmarshal(data, &jsonMap); err != nil {
		t.Fatalf("Failed to unmarshal JSON into map: %v", err)
	}

	if v, ok := jsonMap["ttl_minutes"].(float64); !ok || v != 30.0 {
		t.Errorf("Expected ttl_minutes=30, got '%v'", jsonMap["ttl_minutes"])
	}

	// TTL omitted entirely: the field must be absent so the store can
	// distinguish "no TTL requested" from "TTL of zero minutes"
	req.TTLMinutes = TTLField{}
	data, _ = json.Marshal(req)
	jsonMap = map[string]interface{}{}
	json.Unmarshal(data, &jsonMap)

	if _, exists := jsonMap["ttl_minutes"]; exists {
		t.Error("Expected ttl_minutes to be omitted when unset")
	}

	var decoded MemoryPutRequest
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal MemoryPutRequest: %v", err)
	}
	if decoded.TTLMinutes.Provided {
		t.Error("Expected omitted ttl_minutes to decode as not provided")
	}

	// Explicit null means "clear expiration", distinct from omitted
	if err := json.Unmarshal([]byte(`{"namespace":"a","key":"k","ttl_minutes":null}`), &decoded); err != nil {
		t.Fatalf("Failed to unmarshal MemoryPutRequest: %v", err)
	}
	if !decoded.TTLMinutes.Provided || !decoded.TTLMinutes.Clear {
		t.Errorf("Expected null ttl_minutes to decode as an explicit clear, got %+v", decoded.TTLMinutes)
	}
	data, _ = json.Marshal(decoded)
	jsonMap = map[string]interface{}{}
	json.Unmarshal(data, &jsonMap)
	if v, exists := jsonMap["ttl_minutes"]; !exists || v != nil {
		t.Errorf("Expected cleared TTL to round-trip as null, got '%v'", v)
	}

	// TTL of zero minutes is a real value, not an omission
	if err := json.Unmarshal([]byte(`{"namespace":"a","key":"k","ttl_minutes":0}`), &decoded); err != nil {
		t.Fatalf("Failed to unmarshal MemoryPutRequest: %v", err)
	}
	if !decoded.TTLMinutes.Provided || decoded.TTLMinutes.Clear || decoded.TTLMinutes.Minutes != 0 {
		t.Errorf("Expected ttl_minutes=0 to decode as zero minutes, got %+v", decoded.TTLMinutes)
	}
}

func TestMemorySearchResponseWireForm(t *testing.T) {
	resp := MemorySearchResponse{
		Status: "success",
		Results: []MemorySearchResult{
			{Namespace: "agents/alice", Key: "note-1", Value: map[string]interface{}{"text": "first"}, Score: 0.91},
			{Namespace: "agents/alice", Key: "note-2", Value: map[string]interface{}{"text": "second"}, Score: 0},
		},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Failed to marshal MemorySearchResponse: %v", err)
	}

	var jsonMap map[string]interface{}
	if err := json.Unmarshal(data, &jsonMap); err != nil {
		t.Fatalf("Failed to unmarshal JSON into map: %v", err)
	}

	// Verify error field is omitted when empty
	if _, exists := jsonMap["error"]; exists {
		t.Error("Expected 'error' field to be omitted when empty")
	}

	results, ok := jsonMap["results"].([]interface{})
	if !ok {
		t.Fatalf("Expected 'results' to be an array, got %T", jsonMap["results"])
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}

	first, ok := results[0].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected result object, got %T", results[0])
	}
	if first["namespace"] != "agents/alice" || first["key"] != "note-1" {
		t.Errorf("First result doesn't match: %v", first)
	}

	// A zero score still appears on the wire: recency-only matches
	// report it explicitly
	second := results[1].(map[string]interface{})
	if _, exists := second["score"]; !exists {
		t.Error("Expected zero score to be present in the wire form")
	}
}
