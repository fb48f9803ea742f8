package main

import (
	"strings"
	"testing"
	"time"

	"github.com/gezibash/tdcache/internal/tdtree"
)

func TestReadFacts(t *testing.T) {
	input := `# seed data
{"id": "road/17", "start": 0, "end": 1499, "data": "open"}

{"id": "road/17", "start": 1500, "data": "closed", "labels": {"kind": "road"}, "ttl": "1h"}
`
	records, err := readFacts(strings.NewReader(input))
	if err != nil {
		t.Fatalf("readFacts: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if got := records[0].end(); got != 1499 {
		t.Errorf("first end = %d, want 1499", got)
	}
	if got := records[1].end(); got != tdtree.Open {
		t.Errorf("missing end = %d, want open", got)
	}
	if records[1].Labels["kind"] != "road" {
		t.Errorf("labels = %v", records[1].Labels)
	}
}

func TestReadFactsErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bad json", "{\"id\": \"a\", \"start\": 0}\n{not json}\n", "line 2"},
		{"missing id", "\n\n{\"start\": 3}\n", "line 3: missing id"},
		{"bad start", `{"id": "a", "start": "soon"}`, "line 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readFacts(strings.NewReader(tt.input))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestReadFactFileMissing(t *testing.T) {
	if _, err := readFactFile(t.TempDir() + "/nope.jsonl"); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestFactRecordObject(t *testing.T) {
	now := time.Unix(1000, 0)

	obj, err := factRecord{ID: "a", Key: "k", Data: "payload", TTL: "30s"}.object(now)
	if err != nil {
		t.Fatal(err)
	}
	if obj.Key != "k" || string(obj.Data) != "payload" {
		t.Errorf("object = %+v", obj)
	}
	if want := now.Add(30 * time.Second).UnixNano(); obj.ExpiresAt != want {
		t.Errorf("ExpiresAt = %d, want %d", obj.ExpiresAt, want)
	}

	obj, err = factRecord{ID: "a"}.object(now)
	if err != nil {
		t.Fatal(err)
	}
	if obj.ExpiresAt != 0 {
		t.Errorf("no ttl should never expire, got %d", obj.ExpiresAt)
	}

	if _, err := (factRecord{ID: "a", TTL: "soon"}).object(now); err == nil {
		t.Error("expected error for a bad ttl")
	}
}
