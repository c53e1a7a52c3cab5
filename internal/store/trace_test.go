package store

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/chisqfit/internal/fit"
)

func TestTraceWriter_WriteAndRead(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "test-job-123"

	writer, err := NewTraceWriter(tmpDir, jobID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	change := 0.25
	entries := []TraceEntry{
		{Iteration: 1, Objective: 2.0, Best: 2.0, Timestamp: time.Now()},
		{Iteration: 2, Objective: 1.75, Best: 1.75, Change: &change, Timestamp: time.Now()},
		{Iteration: 3, Objective: 1.8, Best: 1.75, Halved: true, Step: []float64{0.05}, Timestamp: time.Now()},
	}
	for _, entry := range entries {
		if err := writer.Write(entry); err != nil {
			t.Fatalf("Failed to write entry: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	if writer.Path() != filepath.Join(tmpDir, "jobs", jobID, "trace.jsonl") {
		t.Errorf("Unexpected trace path %s", writer.Path())
	}

	reader, err := NewTraceReader(tmpDir, jobID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	got, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("Expected %d entries, got %d", len(entries), len(got))
	}
	for i := range entries {
		if got[i].Iteration != entries[i].Iteration || got[i].Objective != entries[i].Objective {
			t.Errorf("Entry %d = %+v, want %+v", i, got[i], entries[i])
		}
	}
	if got[0].Change != nil {
		t.Error("Entry 0 should have no change")
	}
	if got[1].Change == nil || *got[1].Change != 0.25 {
		t.Errorf("Entry 1 change = %v, want 0.25", got[1].Change)
	}
	if !got[2].Halved || len(got[2].Step) != 1 {
		t.Errorf("Entry 2 = %+v", got[2])
	}
}

func TestTraceWriter_Append(t *testing.T) {
	tmpDir := t.TempDir()

	for round := 0; round < 2; round++ {
		writer, err := NewTraceWriter(tmpDir, "job", round > 0)
		if err != nil {
			t.Fatalf("Failed to create writer: %v", err)
		}
		if err := writer.Write(TraceEntry{Iteration: round + 1}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		writer.Close()
	}

	reader, err := NewTraceReader(tmpDir, "job")
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()
	got, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries after append, got %d", len(got))
	}

	// Without append the file is truncated.
	writer, err := NewTraceWriter(tmpDir, "job", false)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	writer.Close()
	info, err := os.Stat(filepath.Join(tmpDir, "jobs", "job", "trace.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("Expected truncated trace, size %d", info.Size())
	}
}

func TestTraceWriter_Flush(t *testing.T) {
	tmpDir := t.TempDir()
	writer, err := NewTraceWriter(tmpDir, "job", false)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	if err := writer.Write(TraceEntry{Iteration: 1, Objective: 1}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := writer.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	info, err := os.Stat(writer.Path())
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("Expected data on disk after Flush")
	}
}

func TestTraceReader_ReadIteratively(t *testing.T) {
	tmpDir := t.TempDir()
	writer, err := NewTraceWriter(tmpDir, "job", false)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		writer.Write(TraceEntry{Iteration: i})
	}
	writer.Close()

	reader, err := NewTraceReader(tmpDir, "job")
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()

	for i := 1; i <= 3; i++ {
		entry, err := reader.Read()
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		if entry.Iteration != i {
			t.Errorf("Iteration = %d, want %d", entry.Iteration, i)
		}
	}
	if _, err := reader.Read(); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestTraceReader_NotFound(t *testing.T) {
	_, err := NewTraceReader(t.TempDir(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestNewTraceEntry(t *testing.T) {
	rec := fit.IterationRecord{
		Iteration: 4,
		Objective: 1.5,
		Best:      1.25,
		Change:    0.5,
		Center:    fit.Params{1, 2},
		Step:      fit.Params{0.1, 0.2},
		Halved:    true,
	}
	e := NewTraceEntry(rec)
	if e.Iteration != 4 || e.Objective != 1.5 || e.Best != 1.25 || !e.Halved {
		t.Errorf("Entry = %+v", e)
	}
	if e.Change == nil || *e.Change != 0.5 {
		t.Errorf("Change = %v, want 0.5", e.Change)
	}

	rec.Center[0] = 42
	if e.Center[0] != 1 {
		t.Error("Entry shares Center with the record")
	}
}

func TestNewTraceEntry_NonFinite(t *testing.T) {
	e := NewTraceEntry(fit.IterationRecord{
		Iteration: 1,
		Objective: math.Inf(1),
		Best:      3,
		Change:    math.NaN(),
	})
	if e.Change != nil {
		t.Errorf("Expected nil change for NaN, got %f", *e.Change)
	}
	if e.Objective != math.MaxFloat64 {
		t.Errorf("Objective = %g, want MaxFloat64", e.Objective)
	}

	tmpDir := t.TempDir()
	writer, err := NewTraceWriter(tmpDir, "job", false)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()
	if err := writer.WriteIteration(fit.IterationRecord{Objective: math.Inf(1), Change: math.NaN()}); err != nil {
		t.Errorf("Non-finite iteration must still encode: %v", err)
	}
}

func TestTraceWriter_ConcurrentWrites(t *testing.T) {
	tmpDir := t.TempDir()
	writer, err := NewTraceWriter(tmpDir, "job", false)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if err := writer.Write(TraceEntry{Iteration: g*10 + i}); err != nil {
					t.Errorf("Write failed: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	reader, err := NewTraceReader(tmpDir, "job")
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	got, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 100 {
		t.Errorf("Expected 100 entries, got %d", len(got))
	}
}
