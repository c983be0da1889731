package selection

import "testing"

func TestExtractJSON_StripsMarkdownFence(t *testing.T) {
	text := "```json\n{\"general\": []}\n```"
	got := extractJSON(text)
	if got != `{"general": []}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractJSON_FindsBalancedObjectInPose(t *testing.T) {
	text := "Конечно, вот результат:\n{\"general\": [{\"id\": 1}]}\nНадеюсь, это поможет."
	got := extractJSON(text)
	if got != `{"general": [{"id": 1}]}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractJSON_NoJSONReturnsEmpty(t *testing.T) {
	if got := extractJSON("просто текст без JSON"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestParseResponse_CategoryObjectShape(t *testing.T) {
	reply := `{"general": [{"id": 1, "title": "t", "description": "d", "score": 8, "reason": "r"}]}`
	parsed, err := parseResponse(reply, "general")
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed["general"]) != 1 || parsed["general"][0].ID != 1 {
		t.Fatalf("unexpected parse: %+v", parsed)
	}
}

func TestParseResponse_FlatListShapeUsesFallbackCategory(t *testing.T) {
	reply := `[{"id": 2, "title": "t", "description": "d", "score": 5, "reason": "r"}]`
	parsed, err := parseResponse(reply, "general")
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed["general"]) != 1 || parsed["general"][0].ID != 2 {
		t.Fatalf("unexpected parse: %+v", parsed)
	}
}

func TestParseResponse_FlatListShapeUsesOwnCategory(t *testing.T) {
	reply := `[{"id": 3, "title": "t", "description": "d", "score": 5, "reason": "r", "category": "tech"}]`
	parsed, err := parseResponse(reply, "general")
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed["tech"]) != 1 {
		t.Fatalf("unexpected parse: %+v", parsed)
	}
}

func TestParseResponse_InvalidScoreRejected(t *testing.T) {
	reply := `{"general": [{"id": 1, "title": "t", "description": "d", "score": 99, "reason": "r"}]}`
	if _, err := parseResponse(reply, "general"); err == nil {
		t.Fatal("expected error for out-of-range score")
	}
}

func TestParseResponse_MissingFieldRejected(t *testing.T) {
	reply := `{"general": [{"id": 1, "title": "", "description": "d", "score": 5, "reason": "r"}]}`
	if _, err := parseResponse(reply, "general"); err == nil {
		t.Fatal("expected error for missing title")
	}
}
