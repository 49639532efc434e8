package i18n

// EnMessages English message catalog
var EnMessages = map[string]string{
	"api.invalid_request":      "Invalid request",
	"api.internal":             "Internal server error",
	"api.session_unknown":      "Unknown session. Run /start again.",
	"api.version_incompatible": "Incompatible prompt version. Run /start again.",
	"api.version_stale":        "Stale prompt version. Start a new session.",
	"api.rate_limited":         "Too many requests, try again later.",
	"api.timeout":              "Model call timed out.",
	"api.unavailable":          "Service unavailable.",
	"api.unauthorized":         "Invalid admin token.",
	"api.no_deliverable":       "No final deliverable for this session.",
	"api.unsupported_format":   "Unsupported format: %s",

	"phase.collecte": "Gathering information",
	"phase.plan":     "Building the outline",
	"phase.sections": "Writing section by section",
	"phase.final":    "Final questionnaire assembly",

	"repl.welcome":             "QuestionnaireMasterPIE: describe your study to begin (/help for help).",
	"repl.disabled":            "⚠ The OpenAI API is disabled on the server (missing keys: %s).",
	"repl.unreachable":         "Server unreachable: %s",
	"repl.phase":               "Phase: %s",
	"repl.session":             "Session: %s",
	"repl.session_none":        "No active session.",
	"repl.session_reset":       "Local session cleared.",
	"repl.session_expired":     "The session expired; a new one starts with your next message.",
	"repl.thinking":            "Thinking…",
	"repl.final_ready":         "Final deliverable ready (%d chars), archived as id %d.",
	"repl.saved":               "Deliverable written to %s",
	"repl.no_deliverable":      "No final deliverable yet.",
	"repl.themes_updated":      "Thematics updated (%d checked).",
	"repl.unknown_command":     "Unknown command: %s",
	"repl.truncated":           "Reply interrupted: the text shown is partial.",
	"repl.final_needs_session": "Start the study before asking for the final assembly.",
	"repl.error":               "Error: %s",
	"repl.help": `Commands:
  /themes         pick thematics
  /final [msg]    assemble the final questionnaire
  /phase          show the current phase
  /save [path]    write the last deliverable to a file
  /reset          forget the local session
  /help           show this help
  /quit           exit`,

	"tui.title":       "Study thematics",
	"tui.add_theme":   "New thematic…",
	"tui.add_sub":     "New sub-thematic…",
	"tui.custom":      "custom",
	"tui.empty_label": "Label cannot be empty.",

	"archive.empty":  "No archived deliverables.",
	"archive.header": "ID\tDATE\tPHASE\tSESSION\tSIZE\tTITLE",
}
