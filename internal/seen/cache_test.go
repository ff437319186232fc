package seen

import (
	"testing"
	"time"
)

func TestAddReportsNewOnce(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	d := Of("12:00:00 [alice] hello")
	if !c.Add(d) {
		t.Fatal("first Add should report a new digest")
	}
	if c.Add(d) {
		t.Error("second Add should report a duplicate")
	}
	if !c.Has(d) {
		t.Error("Has should find the digest")
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
}

func TestDistinctLinesHaveDistinctDigests(t *testing.T) {
	if Of("12:00:00 [alice] hello") == Of("12:00:01 [alice] hello") {
		t.Error("lines with different timestamps share a digest")
	}
}

func TestEntriesExpire(t *testing.T) {
	c := New(20 * time.Millisecond)
	defer c.Close()

	d := Of("expiring")
	c.Add(d)
	time.Sleep(50 * time.Millisecond)

	if c.Has(d) {
		t.Error("expected entry to expire")
	}
	if !c.Add(d) {
		t.Error("expired digest should be new again")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New(time.Minute)
	c.Close()
	c.Close()
}
