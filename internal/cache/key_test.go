package cache

import "testing"

func TestComputeKey_Deterministic(t *testing.T) {
	a := ComputeKey("GET", "/v1/models", nil, nil)
	b := ComputeKey("GET", "/v1/models", nil, nil)

	if a != b {
		t.Error("Expected identical requests to yield identical keys")
	}
}

func TestComputeKey_MethodCaseInsensitive(t *testing.T) {
	a := ComputeKey("get", "/v1/models", nil, nil)
	b := ComputeKey("GET", "/v1/models", nil, nil)

	if a != b {
		t.Error("Expected method casing not to affect the key")
	}
}

func TestComputeKey_JSONFieldOrderIrrelevant(t *testing.T) {
	a := ComputeKey("POST", "/v1/chat", []byte(`{"model":"m1","max_tokens":5}`), nil)
	b := ComputeKey("POST", "/v1/chat", []byte(`{"max_tokens":5,"model":"m1"}`), nil)

	if a != b {
		t.Error("Expected JSON bodies with reordered fields to yield the same key")
	}
}

func TestComputeKey_DifferentBodiesDiffer(t *testing.T) {
	a := ComputeKey("POST", "/v1/chat", []byte(`{"model":"m1"}`), nil)
	b := ComputeKey("POST", "/v1/chat", []byte(`{"model":"m2"}`), nil)

	if a == b {
		t.Error("Expected different bodies to yield different keys")
	}
}

func TestComputeKey_PathAndMethodDiffer(t *testing.T) {
	base := ComputeKey("GET", "/v1/models", nil, nil)

	if ComputeKey("GET", "/v1/usage", nil, nil) == base {
		t.Error("Expected different paths to yield different keys")
	}

	if ComputeKey("DELETE", "/v1/models", nil, nil) == base {
		t.Error("Expected different methods to yield different keys")
	}
}

func TestComputeKey_HeadersParticipate(t *testing.T) {
	plain := ComputeKey("GET", "/v1/models", nil, nil)
	versioned := ComputeKey("GET", "/v1/models", nil, map[string]string{"X-Api-Version": "2"})

	if plain == versioned {
		t.Error("Expected header participation to change the key")
	}

	// Header name casing and map ordering must not matter.
	a := ComputeKey("GET", "/v1/models", nil, map[string]string{"X-Api-Version": "2", "Accept": "application/json"})
	b := ComputeKey("GET", "/v1/models", nil, map[string]string{"accept": "application/json", "x-api-version": "2"})

	if a != b {
		t.Error("Expected header normalization to produce identical keys")
	}
}

func TestComputeKey_NonJSONBody(t *testing.T) {
	a := ComputeKey("POST", "/upload", []byte("raw bytes"), nil)
	b := ComputeKey("POST", "/upload", []byte("raw bytes"), nil)

	if a != b {
		t.Error("Expected non-JSON bodies to hash deterministically")
	}
}
