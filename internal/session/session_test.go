package session

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"qmpie/internal/chat"
	"qmpie/internal/memory"
)

func TestInferPhase(t *testing.T) {
	tests := []struct {
		text string
		want Phase
		ok   bool
	}{
		{"Nous passons en PHASE FINALE.", PhaseFinal, true},
		{"Fin de la phase plan, début de la phase finale", PhaseFinal, true},
		{"Phase Sections : section 1", PhaseSections, true},
		{"phase section 2", PhaseSections, true},
		{"Retour en phase plan puis phase collecte", PhasePlan, true},
		{"Phase collecte : Q1", PhaseCollecte, true},
		{"phase final", PhaseFinal, true},
		{"Aucun marqueur ici, juste la collecte.", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := InferPhase(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("InferPhase(%q) = %q,%v, want %q,%v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestApplyHint(t *testing.T) {
	s := newSession("id-12345678", "v", time.Now(), 0, 0)
	if s.Phase != PhaseCollecte {
		t.Fatalf("initial phase=%q", s.Phase)
	}
	if !s.ApplyHint("sections") || s.Phase != PhaseSections {
		t.Fatalf("phase=%q, want sections", s.Phase)
	}
	for _, bad := range []string{"", "FINAL", "livraison"} {
		if s.ApplyHint(bad) {
			t.Fatalf("ApplyHint(%q) accepted", bad)
		}
	}
	if s.Phase != PhaseSections {
		t.Fatalf("invalid hint changed phase to %q", s.Phase)
	}
	// going back is allowed
	if !s.ApplyHint("collecte") || s.Phase != PhaseCollecte {
		t.Fatalf("phase=%q, want collecte", s.Phase)
	}
}

func TestIsRegression(t *testing.T) {
	if !IsRegression(PhaseSections, PhasePlan) {
		t.Fatal("sections->plan should be a regression")
	}
	if IsRegression(PhasePlan, PhaseFinal) || IsRegression(PhasePlan, PhasePlan) {
		t.Fatal("forward or same phase is not a regression")
	}
	if IsRegression("", PhaseCollecte) {
		t.Fatal("invalid from phase is not a regression")
	}
}

func TestInferPhaseAbsenceKeepsPhase(t *testing.T) {
	s := newSession("id-12345678", "v", time.Now(), 0, 0)
	s.Phase = PhasePlan
	if p, ok := InferPhase("Pouvez-vous préciser la cible ?"); ok {
		s.Phase = p
	}
	if s.Phase != PhasePlan {
		t.Fatalf("phase=%q, want plan", s.Phase)
	}
}

func TestAppendTurnWindow(t *testing.T) {
	s := newSession("id-12345678", "v", time.Now(), 0, 0)
	var all []chat.Turn
	for i := 0; i < 8; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		turn := chat.Turn{Role: role, Content: fmt.Sprintf("m%d", i)}
		all = append(all, turn)
		s.AppendTurn(turn.Role, turn.Content)
	}
	if len(s.RecentTurns) != 5 {
		t.Fatalf("len=%d, want 5", len(s.RecentTurns))
	}
	for i, turn := range s.RecentTurns {
		if turn != all[3+i] {
			t.Fatalf("turn[%d]=%+v, want %+v", i, turn, all[3+i])
		}
	}
	if !strings.HasPrefix(s.Summary, "Utilisateur: m0\nAssistant: m1") {
		t.Fatalf("summary=%q", s.Summary)
	}
}

func TestAppendTurnSummaryTruncation(t *testing.T) {
	s := newSession("id-12345678", "v", time.Now(), 0, 0)
	full := ""
	for i := 0; i < 30; i++ {
		content := strings.Repeat(fmt.Sprintf("%d", i%10), 250)
		s.AppendTurn(chat.RoleUser, content)
		full = strings.TrimSpace(full + "\nUtilisateur: " + content)
	}
	if len([]rune(s.Summary)) != 4000 {
		t.Fatalf("summary len=%d, want 4000", len([]rune(s.Summary)))
	}
	if s.Summary != full[len(full)-4000:] {
		t.Fatal("summary is not the trailing slice of the full concatenation")
	}
}

func TestMergeMemoryThematicScenario(t *testing.T) {
	s := newSession("id-12345678", "v", time.Now(), 0, 0)
	s.MergeMemory(memory.SelectionDelta([]memory.Thematic{{Label: "A", Checked: true}}))
	s.MergeMemory(nil)
	s.MergeMemory(memory.SelectionDelta([]memory.Thematic{{Label: "A", Checked: false}}))

	got := memory.Thematics(s.Memory)
	if len(got) != 1 || got[0].Label != "A" || got[0].Checked {
		t.Fatalf("thematics=%+v, want one unchecked A", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := newSession("id-12345678", "v", time.Now(), 0, 0)
	s.MergeMemory(map[string]any{"a": map[string]any{"b": 1}})
	s.AppendTurn(chat.RoleUser, "x")

	cp := s.Clone()
	cp.Memory["a"].(map[string]any)["b"] = 2
	cp.RecentTurns[0].Content = "y"
	if s.Memory["a"].(map[string]any)["b"] != 1 || s.RecentTurns[0].Content != "x" {
		t.Fatal("clone shares state with the session")
	}
}
