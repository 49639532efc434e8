package i18n

// FrMessages 法语消息目录（默认）
// FrMessages is the French catalog, used by default.
var FrMessages = map[string]string{
	// API errors
	"api.invalid_request":      "Requête invalide",
	"api.internal":             "Erreur interne du serveur",
	"api.session_unknown":      "Session inconnue. Relancez /start.",
	"api.version_incompatible": "Version du prompt incompatible. Lancez /start à nouveau.",
	"api.version_stale":        "Version du prompt obsolète. Démarrez une nouvelle session.",
	"api.rate_limited":         "Trop de requêtes, réessayez plus tard.",
	"api.timeout":              "Délai dépassé pendant l'appel au modèle.",
	"api.unavailable":          "Service indisponible.",
	"api.unauthorized":         "Jeton d'administration invalide.",
	"api.no_deliverable":       "Aucun livrable final pour cette session.",
	"api.unsupported_format":   "Format non pris en charge : %s",

	// Phases
	"phase.collecte": "Collecte des informations",
	"phase.plan":     "Construction du sommaire",
	"phase.sections": "Rédaction section par section",
	"phase.final":    "Assemblage final du questionnaire",

	// REPL
	"repl.welcome":             "QuestionnaireMasterPIE : décrivez votre étude pour commencer (/help pour l'aide).",
	"repl.disabled":            "⚠ L'API OpenAI est désactivée côté serveur (clés manquantes : %s).",
	"repl.unreachable":         "Serveur injoignable : %s",
	"repl.phase":               "Phase : %s",
	"repl.session":             "Session : %s",
	"repl.session_none":        "Aucune session en cours.",
	"repl.session_reset":       "Session locale réinitialisée.",
	"repl.session_expired":     "La session a expiré, une nouvelle session démarre au prochain message.",
	"repl.thinking":            "Réflexion en cours…",
	"repl.final_ready":         "Livrable final prêt (%d caractères), archivé sous l'identifiant %d.",
	"repl.saved":               "Livrable enregistré dans %s",
	"repl.no_deliverable":      "Aucun livrable final pour l'instant.",
	"repl.themes_updated":      "Thématiques mises à jour (%d cochées).",
	"repl.unknown_command":     "Commande inconnue : %s",
	"repl.truncated":           "Réponse interrompue : le texte affiché est partiel.",
	"repl.final_needs_session": "Démarrez d'abord l'étude avant de demander l'assemblage final.",
	"repl.error":               "Erreur : %s",
	"repl.help": `Commandes :
  /themes         choisir les thématiques
  /final [msg]    assembler le questionnaire final
  /phase          afficher la phase en cours
  /save [chemin]  enregistrer le dernier livrable
  /reset          oublier la session locale
  /help           afficher cette aide
  /quit           quitter`,

	// Thematic selector
	"tui.title":       "Thématiques de l'étude",
	"tui.add_theme":   "Nouvelle thématique…",
	"tui.add_sub":     "Nouvelle sous-thématique…",
	"tui.custom":      "perso",
	"tui.empty_label": "Le libellé ne peut pas être vide.",

	// Deliverables archive
	"archive.empty":  "Aucun livrable archivé.",
	"archive.header": "ID\tDATE\tPHASE\tSESSION\tTAILLE\tTITRE",
}
