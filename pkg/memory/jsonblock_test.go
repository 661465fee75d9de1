package memory

import (
	"errors"
	"testing"
)

func TestExtractJSONObjectPlain(t *testing.T) {
	got, err := ExtractJSONObject(`{"a": 1}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"a": 1}` {
		t.Fatalf("got %q", got)
	}
}

func TestExtractJSONObjectWrappedInProse(t *testing.T) {
	raw := "Sure, here is the result:\n\n{\"facts\": [{\"key\": \"x\"}]}\n\nLet me know if you need more."
	got, err := ExtractJSONObject(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"facts": [{"key": "x"}]}` {
		t.Fatalf("got %q", got)
	}
}

func TestExtractJSONObjectNestedAndStrings(t *testing.T) {
	raw := `prefix {"outer": {"inner": "has } brace and \" quote"}, "b": 2} suffix {"second": true}`
	got, err := ExtractJSONObject(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"outer": {"inner": "has } brace and \" quote"}, "b": 2}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractJSONObjectNone(t *testing.T) {
	if _, err := ExtractJSONObject("no json here at all"); !errors.Is(err, ErrNoJSONObject) {
		t.Fatalf("expected ErrNoJSONObject, got %v", err)
	}
	if _, err := ExtractJSONObject(`{"unterminated": true`); !errors.Is(err, ErrNoJSONObject) {
		t.Fatalf("expected ErrNoJSONObject for unbalanced input, got %v", err)
	}
}
