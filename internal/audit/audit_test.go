package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	return l, path
}

func testEntry(event string) AuditEntry {
	return AuditEntry{
		Event:  event,
		TabID:  7,
		URL:    "https://youtube.com/watch?v=1",
		Reason: "blocked by youtube.com",
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)

	for i := 0; i < 5; i++ {
		if err := l.Record(testEntry(EventRedirect)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)

	for i := 0; i < 3; i++ {
		if err := l.Record(testEntry(EventRedirect)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	lines[1] = strings.Replace(lines[1], `"redirect"`, `"allow"`, 1)
	os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	l, path := newTestLog(t)
	l.Record(testEntry(EventRedirect))
	l.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	l2.Record(AuditEntry{Event: EventGrant, URL: "https://youtube.com/", ExpiresAt: 600000})
	l2.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 2 {
		t.Fatalf("expected valid 2-line chain, got %+v", result)
	}
}

func TestFirstEntryUsesGenesisHash(t *testing.T) {
	l, path := newTestLog(t)
	l.Record(testEntry(EventAllow))
	l.Close()

	data, _ := os.ReadFile(path)
	var entry AuditEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatal(err)
	}
	if entry.PrevHash != GenesisHash {
		t.Errorf("prev_hash = %s, want genesis", entry.PrevHash)
	}
	if entry.Timestamp == "" {
		t.Error("expected timestamp to be filled in")
	}
}

func TestConcurrentWritesKeepChainValid(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(testEntry(EventRedirect))
		}()
	}
	wg.Wait()
	l.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 20 {
		t.Fatalf("expected valid 20-line chain, got %+v", result)
	}
}

func TestNilLogIsNoop(t *testing.T) {
	var l *Log
	if err := l.Record(testEntry(EventAllow)); err != nil {
		t.Errorf("nil log Record: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("nil log Close: %v", err)
	}
}

func TestTailReturnsMostRecent(t *testing.T) {
	l, path := newTestLog(t)
	for _, ev := range []string{EventRedirect, EventGrant, EventAllow} {
		l.Record(testEntry(ev))
	}
	l.Close()

	entries, err := Tail(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Event != EventGrant || entries[1].Event != EventAllow {
		t.Errorf("unexpected tail: %+v", entries)
	}
}

func TestRecordMasksSecretsInURL(t *testing.T) {
	l, path := newTestLog(t)
	e := testEntry(EventRedirect)
	e.URL = "https://www.instagram.com/accounts/login/?next=/&token=abc123"
	if err := l.Record(e); err != nil {
		t.Fatal(err)
	}
	l.Close()

	entries, err := Tail(path, 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Tail = %v, %v", entries, err)
	}
	if strings.Contains(entries[0].URL, "abc123") {
		t.Errorf("token written to audit log: %s", entries[0].URL)
	}
	if !strings.Contains(entries[0].URL, "www.instagram.com/accounts/login/") {
		t.Errorf("url mangled: %s", entries[0].URL)
	}
	if r := Verify(path); !r.Valid {
		t.Errorf("chain invalid after masking: %s", r.Error)
	}
}

func TestVerifyCountsEvents(t *testing.T) {
	l, path := newTestLog(t)
	l.Record(testEntry(EventRedirect))
	l.Record(testEntry(EventRedirect))
	l.Record(AuditEntry{Event: EventGrant, SessionID: "s1", URL: "https://youtube.com/", ExpiresAt: 1_700_000_600_000})
	l.Close()

	r := Verify(path)
	if !r.Valid {
		t.Fatalf("invalid: %s", r.Error)
	}
	if r.Events[EventRedirect] != 2 || r.Events[EventGrant] != 1 {
		t.Errorf("events = %v", r.Events)
	}
}

func TestVerifyRejectsMalformedEntries(t *testing.T) {
	tests := []struct {
		name  string
		entry AuditEntry
		want  string
	}{
		{"unknown event", AuditEntry{Event: "teleport", URL: "https://a.com/"}, "unknown event"},
		{"grant without expiry", AuditEntry{Event: EventGrant, URL: "https://a.com/"}, "expires_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, path := newTestLog(t)
			l.Record(testEntry(EventRedirect))
			l.Record(tt.entry)
			l.Close()

			r := Verify(path)
			if r.Valid || r.ErrorLine != 2 || !strings.Contains(r.Error, tt.want) {
				t.Errorf("Verify = %+v, want failure at line 2 mentioning %q", r, tt.want)
			}
		})
	}
}
