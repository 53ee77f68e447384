package netpeer

import (
	"testing"
	"time"
)

func openTestScoreboard(t *testing.T) *Scoreboard {
	t.Helper()
	s, err := OpenScoreboard(t.TempDir())
	if err != nil {
		t.Fatalf("OpenScoreboard: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScoreboardAccumulatesBelowThreshold(t *testing.T) {
	s := openTestScoreboard(t)

	banned, err := s.Penalize("1.2.3.4:8333", PenaltyBadHeader, time.Hour)
	if err != nil {
		t.Fatalf("Penalize: %v", err)
	}
	if banned {
		t.Fatal("did not expect a single bad-header penalty to cross the ban threshold")
	}

	isBanned, err := s.IsBanned("1.2.3.4:8333")
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if isBanned {
		t.Fatal("address should not be banned yet")
	}
}

func TestScoreboardBansOnceThresholdCrossed(t *testing.T) {
	s := openTestScoreboard(t)
	addr := "5.6.7.8:8333"

	var banned bool
	for i := 0; i < 5; i++ {
		var err error
		banned, err = s.Penalize(addr, PenaltyInvalidBlock, time.Hour)
		if err != nil {
			t.Fatalf("Penalize: %v", err)
		}
	}
	if !banned {
		t.Fatal("expected repeated penalties to cross the ban threshold")
	}

	isBanned, err := s.IsBanned(addr)
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if !isBanned {
		t.Fatal("expected address to be banned")
	}
}

func TestScoreboardBanExpiresAfterBackoff(t *testing.T) {
	s := openTestScoreboard(t)
	addr := "9.9.9.9:8333"

	for i := 0; i < 5; i++ {
		if _, err := s.Penalize(addr, PenaltyInvalidBlock, time.Nanosecond); err != nil {
			t.Fatalf("Penalize: %v", err)
		}
	}

	time.Sleep(time.Millisecond)

	isBanned, err := s.IsBanned(addr)
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if isBanned {
		t.Fatal("expected elapsed back-off to clear the ban")
	}

	rec, err := s.get(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.bannedFrom != 0 || rec.score != 0 {
		t.Fatalf("expected record cleared, got %+v", rec)
	}
}

func TestScoreboardForgive(t *testing.T) {
	s := openTestScoreboard(t)
	addr := "1.1.1.1:8333"

	for i := 0; i < 5; i++ {
		if _, err := s.Penalize(addr, PenaltyInvalidBlock, time.Hour); err != nil {
			t.Fatalf("Penalize: %v", err)
		}
	}
	if err := s.Forgive(addr); err != nil {
		t.Fatalf("Forgive: %v", err)
	}

	isBanned, err := s.IsBanned(addr)
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if isBanned {
		t.Fatal("expected Forgive to clear the ban")
	}
}
