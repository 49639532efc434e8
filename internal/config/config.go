package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Required upstream keys reported by MissingKeys.
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvVectorStoreID = "VECTOR_STORE_ID"
)

type ServerConfig struct {
	Addr                string   `json:"addr" mapstructure:"addr"`
	CORSOrigins         []string `json:"cors_origins" mapstructure:"cors_origins"`
	RateLimitRPS        float64  `json:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst      int      `json:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	AdminToken          string   `json:"admin_token,omitempty" mapstructure:"admin_token"`
	BodyLimitBytes      int64    `json:"body_limit_bytes" mapstructure:"body_limit_bytes"`
	ReadHeaderTimeoutMS int      `json:"read_header_timeout_ms" mapstructure:"read_header_timeout_ms"`
	ShutdownTimeoutMS   int      `json:"shutdown_timeout_ms" mapstructure:"shutdown_timeout_ms"`
}

type ProviderConfig struct {
	BaseURL         string `json:"base_url" mapstructure:"base_url"`
	Model           string `json:"model" mapstructure:"model"`
	APIKey          string `json:"api_key,omitempty" mapstructure:"api_key"`
	VectorStoreID   string `json:"vector_store_id,omitempty" mapstructure:"vector_store_id"`
	TimeoutMS       int    `json:"timeout_ms" mapstructure:"timeout_ms"`
	MaxRetries      int    `json:"max_retries" mapstructure:"max_retries"`
	ReasoningEffort string `json:"reasoning_effort" mapstructure:"reasoning_effort"`
	// PhaseTool 启用 set_phase 工具作为结构化阶段信号
	// PhaseTool offers the model a set_phase tool whose calls override text inference.
	PhaseTool bool `json:"phase_tool" mapstructure:"phase_tool"`
}

type SessionConfig struct {
	Capacity        int           `json:"capacity" mapstructure:"capacity"`
	TTL             time.Duration `json:"ttl" mapstructure:"ttl"`
	JanitorInterval time.Duration `json:"janitor_interval" mapstructure:"janitor_interval"`
	MaxRecentTurns  int           `json:"max_recent_turns" mapstructure:"max_recent_turns"`
	SummaryMaxChars int           `json:"summary_max_chars" mapstructure:"summary_max_chars"`
}

type ClientConfig struct {
	ServerURL string `json:"server_url" mapstructure:"server_url"`
	DBPath    string `json:"db_path" mapstructure:"db_path"`
	TimeoutMS int    `json:"timeout_ms" mapstructure:"timeout_ms"`
}

type LogConfig struct {
	Level string `json:"level" mapstructure:"level"`
}

type TracingConfig struct {
	// Exporter is "none" or "stdout".
	Exporter string `json:"exporter" mapstructure:"exporter"`
}

type Config struct {
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`
	Session  SessionConfig  `json:"session" mapstructure:"session"`
	Client   ClientConfig   `json:"client" mapstructure:"client"`
	Log      LogConfig      `json:"log" mapstructure:"log"`
	Tracing  TracingConfig  `json:"tracing" mapstructure:"tracing"`
	Locale   string         `json:"locale" mapstructure:"locale"`
}

// fileConfig mirrors Config with pointer sections so absent keys keep the
// values already loaded.
type fileConfig struct {
	Server   *ServerConfig   `mapstructure:"server"`
	Provider *ProviderConfig `mapstructure:"provider"`
	Session  *SessionConfig  `mapstructure:"session"`
	Client   *ClientConfig   `mapstructure:"client"`
	Log      *LogConfig      `mapstructure:"log"`
	Tracing  *TracingConfig  `mapstructure:"tracing"`
	Locale   *string         `mapstructure:"locale"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:                ":8080",
			CORSOrigins:         []string{"*"},
			RateLimitRPS:        2,
			RateLimitBurst:      5,
			BodyLimitBytes:      1 << 20,
			ReadHeaderTimeoutMS: 10000,
			ShutdownTimeoutMS:   10000,
		},
		Provider: ProviderConfig{
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-5-mini",
			TimeoutMS:       120000,
			MaxRetries:      2,
			ReasoningEffort: "high",
		},
		Session: SessionConfig{
			Capacity:        1024,
			TTL:             6 * time.Hour,
			JanitorInterval: time.Minute,
			MaxRecentTurns:  5,
			SummaryMaxChars: 4000,
		},
		Client: ClientConfig{
			ServerURL: "http://localhost:8080",
			DBPath:    "~/.qmpie/deliverables.db",
			TimeoutMS: 300000,
		},
		Log:     LogConfig{Level: "info"},
		Tracing: TracingConfig{Exporter: "none"},
		Locale:  "fr",
	}
}

// Load 依次合并默认值、全局配置、项目配置与环境变量
// Load layers defaults, the global file, the project file (or path) and the
// environment. A .env file in the working directory is read first; variables
// already set in the process win over it.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("QMPIE_CONFIG")); envPath != "" && resolvedPath == "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return applyEnv(cfg)
}

// ProviderEnabled reports whether model calls can be made.
func (c Config) ProviderEnabled() bool {
	return strings.TrimSpace(c.Provider.APIKey) != ""
}

// MissingKeys 返回缺失的上游凭据变量名
// MissingKeys lists the upstream variables that are not set.
func (c Config) MissingKeys() []string {
	missing := []string{}
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		missing = append(missing, EnvOpenAIKey)
	}
	if strings.TrimSpace(c.Provider.VectorStoreID) == "" {
		missing = append(missing, EnvVectorStoreID)
	}
	return missing
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	out := c
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	if out.Provider.APIKey != "" {
		out.Provider.APIKey = "***"
	}
	if out.Server.AdminToken != "" {
		out.Server.AdminToken = "***"
	}
	return out
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	dir := filepath.Join(home, ".qmpie")
	for _, name := range []string{"config.json", "config.yaml", "config.yml", "config.toml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return []string{p}
		}
	}
	return nil
}

func findProjectConfigPath() string {
	candidates := []string{
		"qmpie.config.json",
		"qmpie.config.yaml",
		"qmpie.config.yml",
		"qmpie.config.toml",
		filepath.Join(".qmpie", "config.json"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(resolved)), ".")
	switch format {
	case "yaml", "yml", "toml":
	case "json", "jsonc", "":
		format = "json"
		data = stripJSONComments(data)
	default:
		return fmt.Errorf("config %q: unsupported format %q", resolved, format)
	}

	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return fmt.Errorf("decode config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fc)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Server != nil {
		cfg.Server = mergeServer(cfg.Server, *fc.Server)
	}
	if fc.Provider != nil {
		cfg.Provider = mergeProvider(cfg.Provider, *fc.Provider)
	}
	if fc.Session != nil {
		cfg.Session = mergeSession(cfg.Session, *fc.Session)
	}
	if fc.Client != nil {
		cfg.Client = mergeClient(cfg.Client, *fc.Client)
	}
	if fc.Log != nil && strings.TrimSpace(fc.Log.Level) != "" {
		cfg.Log.Level = fc.Log.Level
	}
	if fc.Tracing != nil && strings.TrimSpace(fc.Tracing.Exporter) != "" {
		cfg.Tracing.Exporter = fc.Tracing.Exporter
	}
	if fc.Locale != nil && strings.TrimSpace(*fc.Locale) != "" {
		cfg.Locale = *fc.Locale
	}
}

func mergeServer(base, override ServerConfig) ServerConfig {
	out := base
	if override.Addr != "" {
		out.Addr = override.Addr
	}
	if len(override.CORSOrigins) > 0 {
		out.CORSOrigins = append([]string(nil), override.CORSOrigins...)
	}
	if override.RateLimitRPS != 0 {
		out.RateLimitRPS = override.RateLimitRPS
	}
	if override.RateLimitBurst != 0 {
		out.RateLimitBurst = override.RateLimitBurst
	}
	if override.AdminToken != "" {
		out.AdminToken = override.AdminToken
	}
	if override.BodyLimitBytes > 0 {
		out.BodyLimitBytes = override.BodyLimitBytes
	}
	if override.ReadHeaderTimeoutMS > 0 {
		out.ReadHeaderTimeoutMS = override.ReadHeaderTimeoutMS
	}
	if override.ShutdownTimeoutMS > 0 {
		out.ShutdownTimeoutMS = override.ShutdownTimeoutMS
	}
	return out
}

func mergeProvider(base, override ProviderConfig) ProviderConfig {
	out := base
	if override.BaseURL != "" {
		out.BaseURL = override.BaseURL
	}
	if override.Model != "" {
		out.Model = override.Model
	}
	if override.APIKey != "" {
		out.APIKey = override.APIKey
	}
	if override.VectorStoreID != "" {
		out.VectorStoreID = override.VectorStoreID
	}
	if override.TimeoutMS > 0 {
		out.TimeoutMS = override.TimeoutMS
	}
	if override.MaxRetries > 0 {
		out.MaxRetries = override.MaxRetries
	}
	if override.ReasoningEffort != "" {
		out.ReasoningEffort = override.ReasoningEffort
	}
	if override.PhaseTool {
		out.PhaseTool = true
	}
	return out
}

func mergeSession(base, override SessionConfig) SessionConfig {
	out := base
	if override.Capacity > 0 {
		out.Capacity = override.Capacity
	}
	if override.TTL != 0 {
		out.TTL = override.TTL
	}
	if override.JanitorInterval > 0 {
		out.JanitorInterval = override.JanitorInterval
	}
	if override.MaxRecentTurns > 0 {
		out.MaxRecentTurns = override.MaxRecentTurns
	}
	if override.SummaryMaxChars > 0 {
		out.SummaryMaxChars = override.SummaryMaxChars
	}
	return out
}

func mergeClient(base, override ClientConfig) ClientConfig {
	out := base
	if override.ServerURL != "" {
		out.ServerURL = override.ServerURL
	}
	if override.DBPath != "" {
		out.DBPath = override.DBPath
	}
	if override.TimeoutMS > 0 {
		out.TimeoutMS = override.TimeoutMS
	}
	return out
}

func normalize(cfg *Config) error {
	def := Default()
	cfg.Server.Addr = strings.TrimSpace(cfg.Server.Addr)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rate_limit_rps must be >= 0, got %v", cfg.Server.RateLimitRPS)
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = def.Server.RateLimitBurst
	}
	if cfg.Server.BodyLimitBytes <= 0 {
		cfg.Server.BodyLimitBytes = def.Server.BodyLimitBytes
	}
	cfg.Server.CORSOrigins = normalizeList(cfg.Server.CORSOrigins)

	cfg.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Provider.BaseURL), "/")
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = def.Provider.BaseURL
	}
	if strings.TrimSpace(cfg.Provider.Model) == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.TimeoutMS <= 0 {
		cfg.Provider.TimeoutMS = def.Provider.TimeoutMS
	}
	if cfg.Provider.MaxRetries < 0 {
		cfg.Provider.MaxRetries = 0
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider.ReasoningEffort)) {
	case "":
		cfg.Provider.ReasoningEffort = def.Provider.ReasoningEffort
	case "minimal", "low", "medium", "high":
		cfg.Provider.ReasoningEffort = strings.ToLower(strings.TrimSpace(cfg.Provider.ReasoningEffort))
	default:
		return fmt.Errorf("provider.reasoning_effort must be minimal|low|medium|high, got %q", cfg.Provider.ReasoningEffort)
	}

	if cfg.Session.Capacity <= 0 {
		cfg.Session.Capacity = def.Session.Capacity
	}
	if cfg.Session.MaxRecentTurns <= 0 {
		cfg.Session.MaxRecentTurns = def.Session.MaxRecentTurns
	}
	if cfg.Session.SummaryMaxChars <= 0 {
		cfg.Session.SummaryMaxChars = def.Session.SummaryMaxChars
	}
	if cfg.Session.JanitorInterval <= 0 {
		cfg.Session.JanitorInterval = def.Session.JanitorInterval
	}

	if strings.TrimSpace(cfg.Client.ServerURL) == "" {
		cfg.Client.ServerURL = def.Client.ServerURL
	}
	cfg.Client.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.Client.ServerURL), "/")
	if cfg.Client.DBPath == "" {
		cfg.Client.DBPath = def.Client.DBPath
	}
	if cfg.Client.TimeoutMS <= 0 {
		cfg.Client.TimeoutMS = def.Client.TimeoutMS
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Log.Level)) {
	case "":
		cfg.Log.Level = def.Log.Level
	case "debug", "info", "warn", "error":
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	default:
		return fmt.Errorf("log.level must be debug|info|warn|error, got %q", cfg.Log.Level)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Tracing.Exporter)) {
	case "", "none":
		cfg.Tracing.Exporter = "none"
	case "stdout":
		cfg.Tracing.Exporter = "stdout"
	default:
		return fmt.Errorf("tracing.exporter must be none|stdout, got %q", cfg.Tracing.Exporter)
	}
	if strings.TrimSpace(cfg.Locale) == "" {
		cfg.Locale = def.Locale
	}
	return nil
}

func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv(EnvOpenAIKey)); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvVectorStoreID)); v != "" {
		cfg.Provider.VectorStoreID = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("QMPIE_MODEL")); v != "" {
		cfg.Provider.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("QMPIE_PHASE_TOOL")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid QMPIE_PHASE_TOOL: %q", v)
		}
		cfg.Provider.PhaseTool = b
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT: %q", v)
		}
		cfg.Server.Addr = ":" + strconv.Itoa(port)
	}
	if v := strings.TrimSpace(os.Getenv("QMPIE_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("QMPIE_ADMIN_TOKEN")); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := strings.TrimSpace(os.Getenv("QMPIE_RATE_LIMIT_RPS")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return Config{}, fmt.Errorf("invalid QMPIE_RATE_LIMIT_RPS: %q", v)
		}
		cfg.Server.RateLimitRPS = f
	}
	if v := strings.TrimSpace(os.Getenv("QMPIE_SESSION_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid QMPIE_SESSION_TTL: %q", v)
		}
		cfg.Session.TTL = d
	}
	if v := strings.TrimSpace(os.Getenv("QMPIE_SESSION_CAPACITY")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid QMPIE_SESSION_CAPACITY: %q", v)
		}
		cfg.Session.Capacity = n
	}
	if v := strings.TrimSpace(os.Getenv("QMPIE_SERVER_URL")); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := strings.TrimSpace(os.Getenv("QMPIE_DB_PATH")); v != "" {
		cfg.Client.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("QMPIE_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("QMPIE_TRACING_EXPORTER")); v != "" {
		cfg.Tracing.Exporter = v
	}
	if v := strings.TrimSpace(os.Getenv("QMPIE_LANG")); v != "" {
		cfg.Locale = v
	}
	return cfg, normalize(&cfg)
}

func normalizeList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// ExpandPath resolves "~/" and makes path absolute.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

// stripJSONComments removes // and /* */ comments outside string literals.
func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}
	return out.Bytes()
}
