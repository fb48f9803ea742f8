package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testFacts = `{"id": "road/17", "start": 0, "end": 1499, "data": "open"}
{"id": "road/17", "start": 1500, "data": "closed", "labels": {"kind": "road"}}
{"id": "road/18", "start": 100, "end": 200, "data": "works", "labels": {"kind": "works"}}
`

// execute runs the root command in an isolated directory and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--log-level", "error", "--log-format", "json"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFacts(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facts.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func decodeRows(t *testing.T, out string) []map[string]string {
	t.Helper()
	var env struct {
		Data []map[string]string `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	return env.Data
}

func TestCheckCommand(t *testing.T) {
	path := writeFacts(t, testFacts)

	out, err := execute(t, "check", path, "-o", "json")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	var env struct {
		Meta struct {
			Type string `json:"type"`
		} `json:"meta"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if env.Meta.Type != "check" {
		t.Errorf("type = %q, want check", env.Meta.Type)
	}
	if env.Data["facts"] != "3" || env.Data["intervals"] != "3" {
		t.Errorf("counts = %v", env.Data)
	}
	if env.Data["valid"] != true || env.Data["rebuilt_valid"] != true {
		t.Errorf("verification = %v", env.Data)
	}
	if env.Data["backend"] != "memory" {
		t.Errorf("backend = %v", env.Data["backend"])
	}
}

func TestCheckCommandText(t *testing.T) {
	path := writeFacts(t, testFacts)

	out, err := execute(t, "check", path, "--no-rebuild")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "invariants after load") {
		t.Errorf("missing verdict:\n%s", out)
	}
	if strings.Contains(out, "after rebuild") {
		t.Errorf("rebuild ran despite --no-rebuild:\n%s", out)
	}
}

func TestCheckCommandSQLite(t *testing.T) {
	path := writeFacts(t, testFacts)
	dataDir := t.TempDir()

	if _, err := execute(t, "check", path, "--backend", "sqlite", "--data-dir", dataDir); err != nil {
		t.Fatalf("check: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "objects.db")); err != nil {
		t.Errorf("object store not created under the data dir: %v", err)
	}
}

func TestUnknownBackend(t *testing.T) {
	path := writeFacts(t, testFacts)

	_, err := execute(t, "check", path, "--backend", "etcd")
	if err == nil || !strings.Contains(err.Error(), `unknown object store "etcd"`) {
		t.Fatalf("err = %v, want the unknown backend named", err)
	}
	if !strings.Contains(err.Error(), "badger, memory, redis, sqlite") {
		t.Errorf("err = %v, want the registered backends listed", err)
	}
}

func TestCheckCommandBadFact(t *testing.T) {
	path := writeFacts(t, `{"id": "road/17", "start": 10, "end": 5}`)

	_, err := execute(t, "check", path)
	if err == nil || !strings.Contains(err.Error(), "fact 1 (road/17)") {
		t.Fatalf("err = %v, want the failing fact named", err)
	}
}

func TestLookupCommand(t *testing.T) {
	path := writeFacts(t, testFacts)

	out, err := execute(t, "lookup", path, "road/17@1500", "road/17@10", "road/18@50", "-o", "json")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	rows := decodeRows(t, out)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0]["data"] != "closed" || rows[0]["end"] != "open" || rows[0]["key"] != "road/17@1500" || rows[0]["labels"] != "kind=road" {
		t.Errorf("row 0 = %v", rows[0])
	}
	if rows[1]["start"] != "0" || rows[1]["end"] != "1499" || rows[1]["data"] != "open" {
		t.Errorf("row 1 = %v", rows[1])
	}
	if rows[2]["start"] != "-" {
		t.Errorf("miss row = %v", rows[2])
	}
}

func TestLookupCommandHistory(t *testing.T) {
	path := writeFacts(t, testFacts)

	out, err := execute(t, "lookup", path, "--history", "road/17", "-o", "json")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	rows := decodeRows(t, out)
	if len(rows) != 2 || rows[0]["start"] != "0" || rows[1]["start"] != "1500" {
		t.Errorf("history = %v", rows)
	}
}

func TestLookupCommandSnapshot(t *testing.T) {
	path := writeFacts(t, testFacts)

	out, err := execute(t, "lookup", path, "--at", "150", "--filter", `labels.kind == "works"`, "-o", "json")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	rows := decodeRows(t, out)
	if len(rows) != 1 || rows[0]["id"] != "road/18" {
		t.Errorf("snapshot = %v", rows)
	}

	out, err = execute(t, "lookup", path, "--at", "150", "-o", "json")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if rows := decodeRows(t, out); len(rows) != 2 {
		t.Errorf("unfiltered snapshot = %v", rows)
	}
}

func TestLookupCommandErrors(t *testing.T) {
	path := writeFacts(t, testFacts)

	if _, err := execute(t, "lookup", path); err == nil {
		t.Error("expected error with nothing to look up")
	}
	if _, err := execute(t, "lookup", path, "road/17"); err == nil {
		t.Error("expected error for a ref without a version")
	}
	if _, err := execute(t, "lookup", path, "--at", "1", "--filter", "start >"); err == nil {
		t.Error("expected error for a bad filter")
	}
}

func TestBenchCommand(t *testing.T) {
	out, err := execute(t, "bench", "--facts", "200", "--ids", "20", "--lookups", "100", "--horizon", "1000",
		"--label", "kind=bench", "--filter", `labels.kind == "bench"`, "-o", "json")
	if err != nil {
		t.Fatalf("bench: %v", err)
	}
	rows := decodeRows(t, out)
	if len(rows) != 5 {
		t.Fatalf("got %d phases, want 5", len(rows))
	}
	for i, want := range []string{"insert", "lookup", "snapshot", "evict", "rebuild"} {
		if rows[i]["phase"] != want {
			t.Errorf("phase %d = %q, want %q", i, rows[i]["phase"], want)
		}
	}
	if rows[0]["ops"] != "200" {
		t.Errorf("insert ops = %q", rows[0]["ops"])
	}
}

func TestBenchCommandRejectsBadParams(t *testing.T) {
	if _, err := execute(t, "bench", "--evict", "2"); err == nil {
		t.Error("expected error for --evict above 1")
	}
	if _, err := execute(t, "bench", "--ids", "0"); err == nil {
		t.Error("expected error for zero identifiers")
	}
	if _, err := execute(t, "bench", "--label", "novalue"); err == nil {
		t.Error("expected error for a malformed label")
	}
}

func TestVersionCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "tdcache dev") {
		t.Errorf("version output = %q", out.String())
	}
}
