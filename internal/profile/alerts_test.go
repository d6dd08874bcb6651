package profile

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T, p Profile) *Service {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "user_profile.json"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, err := store.Update(p); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	svc := NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	return svc
}

func TestKeywordsDeduplicated(t *testing.T) {
	p := Profile{Name: "Olena", Role: "olena", Keywords: []string{"Budget", "budget", " "}, Projects: []string{"Atlas", "BUDGET"}}
	got := Keywords(p)
	want := []string{"olena", "budget", "atlas"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keyword %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCheckForAlertsTypes(t *testing.T) {
	svc := newTestService(t, Profile{
		Name:     "Olena",
		Role:     "Tech Lead",
		Keywords: []string{"budget"},
		Projects: []string{"Atlas"},
	})

	alerts := svc.CheckForAlerts("OLENA, the tech lead, should review the Atlas budget today")
	if len(alerts) != 4 {
		t.Fatalf("expected 4 alerts, got %d: %+v", len(alerts), alerts)
	}

	wantTypes := []string{AlertName, AlertRole, AlertKeyword, AlertProject}
	for i, alert := range alerts {
		if alert.AlertType != wantTypes[i] {
			t.Errorf("alert %d: got type %q, want %q", i, alert.AlertType, wantTypes[i])
		}
		if alert.Confidence != AlertConfidence {
			t.Errorf("alert %d: unexpected confidence %v", i, alert.Confidence)
		}
		if alert.SpeakerID != 0 {
			t.Errorf("alert %d: unexpected speaker %d", i, alert.SpeakerID)
		}
		if alert.Timestamp.IsZero() {
			t.Errorf("alert %d: missing timestamp", i)
		}
	}
}

func TestCheckForAlertsContextWindow(t *testing.T) {
	svc := newTestService(t, Profile{Name: "Olena"})

	prefix := strings.Repeat("a", 80)
	suffix := strings.Repeat("b", 80)
	alerts := svc.CheckForAlerts(prefix + "Olena" + suffix)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}

	want := strings.Repeat("a", ContextRadius) + "Olena" + strings.Repeat("b", ContextRadius)
	if alerts[0].TriggeredText != want {
		t.Errorf("unexpected context %q", alerts[0].TriggeredText)
	}
}

func TestCheckForAlertsContextMultibyte(t *testing.T) {
	svc := newTestService(t, Profile{Name: "Олена"})

	alerts := svc.CheckForAlerts("Привіт, ОЛЕНА!")
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].TriggeredText != "Привіт, ОЛЕНА!" {
		t.Errorf("unexpected context %q", alerts[0].TriggeredText)
	}
}

func TestCheckForAlertsNoMatch(t *testing.T) {
	svc := newTestService(t, Profile{Name: "Olena"})
	if alerts := svc.CheckForAlerts("nothing relevant here"); len(alerts) != 0 {
		t.Errorf("expected no alerts, got %+v", alerts)
	}
	if alerts := svc.CheckForAlerts("   "); alerts != nil {
		t.Errorf("expected nil for blank text, got %+v", alerts)
	}
}
