package llmclient

import "testing"

func TestExtractJSONObjectPlain(t *testing.T) {
	obj, ok := ExtractJSONObject(`{"a": 1}`)
	if !ok || obj != `{"a": 1}` {
		t.Fatalf("got %q, %v", obj, ok)
	}
}

func TestExtractJSONObjectSurroundedByProse(t *testing.T) {
	text := "Sure, here is the plan:\n```json\n{\"summary\": \"do it\", \"subtasks\": []}\n```\nLet me know."
	obj, ok := ExtractJSONObject(text)
	if !ok {
		t.Fatal("expected to find an object")
	}
	if obj != `{"summary": "do it", "subtasks": []}` {
		t.Fatalf("unexpected extraction: %q", obj)
	}
}

func TestExtractJSONObjectHandlesNestedBracesAndStrings(t *testing.T) {
	text := `noise {"a": {"b": "}"}, "c": 2} trailing`
	obj, ok := ExtractJSONObject(text)
	if !ok {
		t.Fatal("expected to find an object")
	}
	if obj != `{"a": {"b": "}"}, "c": 2}` {
		t.Fatalf("unexpected extraction: %q", obj)
	}
}

func TestExtractJSONObjectNoneFound(t *testing.T) {
	if _, ok := ExtractJSONObject("no json here"); ok {
		t.Fatal("expected no object found")
	}
}
