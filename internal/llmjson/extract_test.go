package llmjson

import (
	"testing"
)

type routeReply struct {
	Route  string `json:"route"`
	Reason string `json:"reason"`
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  routeReply
	}{
		{"pure", `{"route": "replay"}`, routeReply{Route: "replay"}},
		{"with reason", `{"route":"impossible","reason":"changes the transcript"}`, routeReply{"impossible", "changes the transcript"}},
		{"prefix", `Sure: {"route": "payload"}`, routeReply{Route: "payload"}},
		{"suffix", `{"route": "payload"} Hope that helps.`, routeReply{Route: "payload"}},
		{"json fence", "```json\n{\"route\": \"replay\"}\n```", routeReply{Route: "replay"}},
		{"bare fence", "```\n{\"route\": \"replay\"}\n```", routeReply{Route: "replay"}},
		{"nested", `{"route": "payload", "meta": {"a": 1}}`, routeReply{Route: "payload"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode[routeReply](tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtractRejects(t *testing.T) {
	for _, input := range []string{
		"",
		"payload",
		`["payload"]`,
		`{"route": }`,
		"null",
	} {
		if _, err := Extract(input); err == nil {
			t.Errorf("Extract(%q): expected error", input)
		}
	}
}

func TestExtractErrorPreviewIsBounded(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	_, err := Extract(string(long))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(err.Error()) > 160 {
		t.Errorf("error message too long: %d", len(err.Error()))
	}
}
