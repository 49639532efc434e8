package storage

// Deliverable 归档的最终问卷
// Deliverable is an archived final questionnaire.
type Deliverable struct {
	ID            int64  `json:"id"`
	SessionID     string `json:"session_id"`
	Phase         string `json:"phase"`
	PromptVersion string `json:"prompt_version"`
	Title         string `json:"title"`
	Markdown      string `json:"markdown"`
	CreatedAt     string `json:"created_at"`
}
