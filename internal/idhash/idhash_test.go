package idhash

import (
	"testing"
	"time"

	"marketshare-qaqc/internal/domain"
)

func sampleRecord() *domain.CanonicalRecord {
	return &domain.CanonicalRecord{
		Country:     "PH",
		Platform:    "SHP",
		Month:       domain.MustParseMonth("2025-12"),
		SellerID:    "s1",
		SPUID:       "p1",
		VendorGroup: "v1",
		Price:       domain.Float64Ptr(9.99),
	}
}

func TestRecordDigest_Deterministic(t *testing.T) {
	a := NewRecordDigest()
	b := NewRecordDigest()
	for i := 0; i < 3; i++ {
		a.Add(sampleRecord())
		b.Add(sampleRecord())
	}

	if a.Sum() != b.Sum() {
		t.Errorf("expected identical digests, got %s vs %s", a.Sum(), b.Sum())
	}
	if len(a.Sum()) != 64 {
		t.Errorf("expected 64-char digest, got %d", len(a.Sum()))
	}
	if a.Count() != 3 {
		t.Errorf("expected count 3, got %d", a.Count())
	}
}

func TestRecordDigest_SensitiveToValues(t *testing.T) {
	a := NewRecordDigest()
	a.Add(sampleRecord())

	changed := sampleRecord()
	changed.Price = nil
	b := NewRecordDigest()
	b.Add(changed)

	if a.Sum() == b.Sum() {
		t.Error("expected different digests for different prices")
	}
}

func TestComputeRunID(t *testing.T) {
	ts := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

	id1 := ComputeRunID("abc", ts)
	id2 := ComputeRunID("abc", ts)
	id3 := ComputeRunID("abc", ts.Add(time.Millisecond))

	if id1 != id2 {
		t.Errorf("expected deterministic run id, got %s vs %s", id1, id2)
	}
	if id1 == id3 {
		t.Error("expected different run ids for different start times")
	}
	if len(id1) != 36 {
		t.Errorf("expected uuid string, got %q", id1)
	}
}
