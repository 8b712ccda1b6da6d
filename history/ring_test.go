package history

import (
	"strconv"
	"sync"
	"testing"

	"github.com/Tutortoise/object-detection-service/models"
)

func record(i int) models.RequestRecord {
	return models.RequestRecord{ID: strconv.Itoa(i), Timestamp: "2025-01-01 00:00:00"}
}

func TestRecordKeepsNewestFirst(t *testing.T) {
	ring := New(DefaultCapacity)
	for i := 1; i <= 3; i++ {
		ring.Record(record(i))
	}

	got := ring.Snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, want := range []string{"3", "2", "1"} {
		if got[i].ID != want {
			t.Errorf("entry %d = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestRecordTruncatesToCapacity(t *testing.T) {
	tests := []struct {
		inserts int
		want    int
	}{
		{0, 0},
		{1, 1},
		{19, 19},
		{20, 20},
		{21, 20},
		{57, 20},
	}

	for _, tt := range tests {
		ring := New(DefaultCapacity)
		for i := 1; i <= tt.inserts; i++ {
			ring.Record(record(i))
		}
		if ring.Len() != tt.want {
			t.Errorf("after %d inserts Len() = %d, want %d", tt.inserts, ring.Len(), tt.want)
		}
		if tt.inserts == 0 {
			continue
		}
		snap := ring.Snapshot()
		if snap[0].ID != strconv.Itoa(tt.inserts) {
			t.Errorf("after %d inserts newest = %s", tt.inserts, snap[0].ID)
		}
		if oldest := snap[len(snap)-1].ID; oldest != strconv.Itoa(tt.inserts-tt.want+1) {
			t.Errorf("after %d inserts oldest = %s", tt.inserts, oldest)
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	ring := New(2)
	ring.Record(record(1))

	snap := ring.Snapshot()
	snap[0].ID = "mutated"

	if ring.Snapshot()[0].ID != "1" {
		t.Fatal("snapshot mutation leaked into the ring")
	}
}

func TestNewFallsBackToDefaultCapacity(t *testing.T) {
	if got := New(0).Capacity(); got != DefaultCapacity {
		t.Fatalf("Capacity() = %d, want %d", got, DefaultCapacity)
	}
}

func TestConcurrentRecordRespectsCapacity(t *testing.T) {
	ring := New(DefaultCapacity)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ring.Record(record(w*1000 + i))
				if n := ring.Len(); n > DefaultCapacity {
					t.Errorf("Len() = %d exceeds capacity", n)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if ring.Len() != DefaultCapacity {
		t.Fatalf("Len() = %d, want %d", ring.Len(), DefaultCapacity)
	}
	seen := make(map[string]bool)
	for _, rec := range ring.Snapshot() {
		if seen[rec.ID] {
			t.Fatalf("duplicate record %s after concurrent inserts", rec.ID)
		}
		seen[rec.ID] = true
	}
}
