package memory

import "encoding/json"

// SubThematic is a checkable sub-topic nested under a thematic.
type SubThematic struct {
	Label   string `json:"label"`
	Checked bool   `json:"checked"`
	Custom  bool   `json:"custom,omitempty"`
}

// Thematic 用户可勾选的主题及其子主题
// Thematic is a user-selectable topic with its ordered sub-topics.
type Thematic struct {
	Label           string        `json:"label"`
	Checked         bool          `json:"checked"`
	Custom          bool          `json:"custom,omitempty"`
	SousThematiques []SubThematic `json:"sous_thematiques"`
}

// SelectionDelta 构造携带完整勾选状态的记忆增量
// SelectionDelta builds the memory delta carrying the complete selection.
// The list is always sent whole so that merging drops stale entries.
func SelectionDelta(thematics []Thematic) map[string]any {
	items := make([]any, 0, len(thematics))
	for _, t := range thematics {
		subs := make([]any, 0, len(t.SousThematiques))
		for _, s := range t.SousThematiques {
			sub := map[string]any{"label": s.Label, "checked": s.Checked}
			if s.Custom {
				sub["custom"] = true
			}
			subs = append(subs, sub)
		}
		item := map[string]any{
			"label":            t.Label,
			"checked":          t.Checked,
			"sous_thematiques": subs,
		}
		if t.Custom {
			item["custom"] = true
		}
		items = append(items, item)
	}
	return map[string]any{
		"collecte": map[string]any{"thematiques": items},
	}
}

// Thematics decodes the thematic selection held in a snapshot. Entries that
// do not have the expected shape are skipped.
func Thematics(snapshot map[string]any) []Thematic {
	collecte, _ := snapshot["collecte"].(map[string]any)
	raw, ok := collecte["thematiques"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var out []Thematic
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
