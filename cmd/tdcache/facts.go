package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gezibash/tdcache/internal/factcache"
	"github.com/gezibash/tdcache/internal/factcache/physical"
	"github.com/gezibash/tdcache/internal/tdtree"
)

// factRecord is one line of a fact file:
//
//	{"id": "road/17", "start": 0, "end": 1499, "data": "closed", "labels": {"kind": "road"}}
//
// A missing end leaves the fact open. ttl is a Go duration.
type factRecord struct {
	ID     string            `json:"id"`
	Start  int64             `json:"start"`
	End    *int64            `json:"end,omitempty"`
	Key    string            `json:"key,omitempty"`
	Data   string            `json:"data,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
	TTL    string            `json:"ttl,omitempty"`
}

func (r factRecord) end() int64 {
	if r.End == nil {
		return tdtree.Open
	}
	return *r.End
}

func (r factRecord) object(now time.Time) (*physical.Object, error) {
	obj := &physical.Object{
		Key:    r.Key,
		Data:   []byte(r.Data),
		Labels: r.Labels,
	}
	if r.TTL != "" {
		ttl, err := time.ParseDuration(r.TTL)
		if err != nil {
			return nil, fmt.Errorf("ttl %q: %w", r.TTL, err)
		}
		if ttl > 0 {
			obj.ExpiresAt = now.Add(ttl).UnixNano()
		}
	}
	return obj, nil
}

// readFacts parses a JSON-lines fact file. Blank lines and lines starting
// with # are skipped.
func readFacts(r io.Reader) ([]factRecord, error) {
	var records []factRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 || b[0] == '#' {
			continue
		}
		var rec factRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.ID == "" {
			return nil, fmt.Errorf("line %d: missing id", line)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func readFactFile(path string) ([]factRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := readFacts(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// loadFacts puts every record into c in file order, so later lines win
// where intervals overlap.
func loadFacts(ctx context.Context, c *factcache.Cache, records []factRecord) error {
	now := time.Now()
	for i, rec := range records {
		obj, err := rec.object(now)
		if err != nil {
			return fmt.Errorf("fact %d (%s): %w", i+1, rec.ID, err)
		}
		if err := c.Put(ctx, rec.ID, rec.Start, rec.end(), obj); err != nil {
			return fmt.Errorf("fact %d (%s): %w", i+1, rec.ID, err)
		}
	}
	return nil
}
