package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nghyane/gameday-net/internal/pipeline"
)

func newTestPersister(t *testing.T) *Persister {
	t.Helper()
	p, err := NewPersister(filepath.Join(t.TempDir(), "usage.db"), Options{BatchSize: 2, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewPersister: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func TestPersistAndSummarize(t *testing.T) {
	p := newTestPersister(t)
	now := time.Now()
	records := []pipeline.AttemptRecord{
		{RequestID: "r1", Method: "GET", Path: "/schools", Attempt: 0, StatusCode: 503, Latency: 40 * time.Millisecond, ErrorKind: "server_error", Timestamp: now},
		{RequestID: "r1", Method: "GET", Path: "/schools", Attempt: 1, StatusCode: 200, Latency: 20 * time.Millisecond, Timestamp: now},
		{RequestID: "r2", Method: "POST", Path: "/events/e1/checkin", Attempt: 0, StatusCode: 401, ErrorKind: "unauthorized", Timestamp: now},
	}
	for _, r := range records {
		p.RecordAttempt(r)
	}
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, err := p.Summarize(context.Background(), now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("summaries = %+v", got)
	}
	schools := got[0]
	if schools.Path != "/schools" || schools.Requests != 1 || schools.Attempts != 2 || schools.Failures != 1 {
		t.Errorf("schools = %+v", schools)
	}
	if schools.ErrorKinds["server_error"] != 1 {
		t.Errorf("error kinds = %v", schools.ErrorKinds)
	}
	if schools.AvgLatencyMS != 30 {
		t.Errorf("avg latency = %v", schools.AvgLatencyMS)
	}
}

func TestCleanupHonorsRetention(t *testing.T) {
	p := newTestPersister(t)
	now := time.Now()
	p.RecordAttempt(pipeline.AttemptRecord{RequestID: "old", Method: "GET", Path: "/a", Timestamp: now.Add(-40 * 24 * time.Hour)})
	p.RecordAttempt(pipeline.AttemptRecord{RequestID: "new", Method: "GET", Path: "/a", Timestamp: now})
	if err := p.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	n, err := p.Cleanup(context.Background(), now)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
}

func TestStopFlushesPending(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usage.db")
	p, err := NewPersister(path, Options{BatchSize: 100, FlushInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	p.RecordAttempt(pipeline.AttemptRecord{RequestID: "r", Method: "GET", Path: "/p", Timestamp: time.Now()})
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	reopened, err := NewPersister(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Stop()
	got, err := reopened.Summarize(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Attempts != 1 {
		t.Errorf("after reopen = %+v", got)
	}
}

func TestNilPersisterIsSafe(t *testing.T) {
	var p *Persister
	p.RecordAttempt(pipeline.AttemptRecord{})
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}
}
