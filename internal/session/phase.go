package session

import "strings"

// Phase 问卷编写流程的阶段
// Phase is the stage a session has reached in the authoring protocol.
type Phase string

const (
	PhaseCollecte Phase = "collecte"
	PhasePlan     Phase = "plan"
	PhaseSections Phase = "sections"
	PhaseFinal    Phase = "final"
)

var phaseOrder = []Phase{PhaseCollecte, PhasePlan, PhaseSections, PhaseFinal}

// ParsePhase 校验阶段取值（区分大小写，与线上协议一致）
// ParsePhase validates a wire value. Matching is exact.
func ParsePhase(s string) (Phase, bool) {
	p := Phase(s)
	return p, p.Valid()
}

// Valid reports whether p is one of the four phases.
func (p Phase) Valid() bool {
	return p.index() >= 0
}

func (p Phase) index() int {
	for i, v := range phaseOrder {
		if v == p {
			return i
		}
	}
	return -1
}

// IsRegression reports whether moving from -> to goes backwards in the
// protocol. Regressions are allowed; callers only observe them.
func IsRegression(from, to Phase) bool {
	return from.Valid() && to.Valid() && to.index() < from.index()
}

// markers are checked in priority order; the first hit wins because replies
// announcing a transition often name both the old and the new phase.
var markers = []struct {
	phase   Phase
	needles []string
}{
	{PhaseFinal, []string{"phase finale", "phase final"}},
	{PhaseSections, []string{"phase sections", "phase section"}},
	{PhasePlan, []string{"phase plan"}},
	{PhaseCollecte, []string{"phase collecte"}},
}

// InferPhase 从模型回复文本中推断阶段
// InferPhase scans text case-insensitively for a phase announcement with
// priority final > sections > plan > collecte. ok is false when no marker
// is present.
func InferPhase(text string) (Phase, bool) {
	normalized := strings.ToLower(text)
	for _, m := range markers {
		for _, needle := range m.needles {
			if strings.Contains(normalized, needle) {
				return m.phase, true
			}
		}
	}
	return "", false
}
