package session

import (
	"testing"
	"time"
)

func TestAppendConsoleTrims(t *testing.T) {
	s := newSession("A", 3)
	for i := 0; i < 5; i++ {
		s.AppendConsole(ConsoleMessage{Type: "log", Text: "x", Timestamp: time.Now()})
	}
	if len(s.Console) != 3 {
		t.Fatalf("len(Console) = %d, want 3", len(s.Console))
	}
}

func TestInsertAndFillNetworkRequest(t *testing.T) {
	s := newSession("A", 0)
	s.InsertNetworkRequest(&NetworkRequest{RequestID: "R1", URL: "https://x", Method: "GET"})
	s.FillNetworkResponse("R1", 200, "text/html", nil)
	s.FillNetworkResponse("unknown", 500, "text/plain", nil)

	records := s.SnapshotNetwork()
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if records[0].StatusCode != 200 || !records[0].Responded {
		t.Fatalf("expected R1 to be filled, got %+v", records[0])
	}
}

func TestNetworkOrderPreserved(t *testing.T) {
	s := newSession("A", 0)
	s.InsertNetworkRequest(&NetworkRequest{RequestID: "R1"})
	s.InsertNetworkRequest(&NetworkRequest{RequestID: "R2"})
	s.InsertNetworkRequest(&NetworkRequest{RequestID: "R1"}) // re-insert, order unchanged

	records := s.SnapshotNetwork()
	if len(records) != 2 || records[0].RequestID != "R1" || records[1].RequestID != "R2" {
		t.Fatalf("unexpected order: %+v", records)
	}
}

func TestDialogSlot(t *testing.T) {
	s := newSession("A", 0)
	s.SetDialog(&Dialog{Type: "alert", Message: "hi"})
	if s.PendingDialog == nil || s.PendingDialog.Message != "hi" {
		t.Fatalf("expected dialog to be set")
	}
	s.ClearDialog()
	if s.PendingDialog != nil {
		t.Fatalf("expected dialog to be cleared")
	}
}

func TestClearOnMainFrameNavigation(t *testing.T) {
	s := newSession("A", 0)
	s.AppendConsole(ConsoleMessage{Text: "x"})
	s.InsertNetworkRequest(&NetworkRequest{RequestID: "R1"})
	s.SnapshotCache["1_1"] = SnapshotEntry{BackendNodeID: 5}

	s.ClearOnMainFrameNavigation()

	if len(s.Console) != 0 || len(s.Network) != 0 || len(s.SnapshotCache) != 0 {
		t.Fatalf("expected all caches cleared, got console=%d network=%d snapshot=%d",
			len(s.Console), len(s.Network), len(s.SnapshotCache))
	}
}

func TestCloseLastTabGuardRefusesOnlyTab(t *testing.T) {
	s := newSession("A", 0)
	s.OwnedTargets["T1"] = true

	if err := CloseLastTabGuard(s, "T1"); err == nil {
		t.Fatalf("expected an error closing the only tab")
	}
}

func TestCloseLastTabGuardRejectsForeignTarget(t *testing.T) {
	s := newSession("A", 0)
	s.OwnedTargets["T1"] = true
	s.OwnedTargets["T2"] = true

	if err := CloseLastTabGuard(s, "T3"); err == nil {
		t.Fatalf("expected an error closing a target not owned by this session")
	}
}

func TestCloseLastTabGuardAllowsNonLastOwnedTab(t *testing.T) {
	s := newSession("A", 0)
	s.OwnedTargets["T1"] = true
	s.OwnedTargets["T2"] = true

	if err := CloseLastTabGuard(s, "T1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
