package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ProjectConfigPath returns ./.qmpie/config.json under projectDir.
func ProjectConfigPath(projectDir string) string {
	return filepath.Join(strings.TrimSpace(projectDir), ".qmpie", "config.json")
}

// InitProjectConfigScaffold 在 projectDir 下写入项目级配置模板（不含密钥）
// InitProjectConfigScaffold writes ./.qmpie/config.json with the defaults,
// secrets left out. An existing file is kept and created is false.
func InitProjectConfigScaffold(projectDir string) (path string, created bool, err error) {
	path = ProjectConfigPath(projectDir)
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return path, false, fmt.Errorf("project config path is a directory: %s", path)
		}
		return path, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return path, false, fmt.Errorf("stat project config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, false, fmt.Errorf("mkdir .qmpie: %w", err)
	}

	root, err := ToMap(Default())
	if err != nil {
		return path, false, err
	}
	if err := writeJSON(path, root); err != nil {
		return path, false, fmt.Errorf("write project config: %w", err)
	}
	return path, true, nil
}

// WriteProviderModel 将 provider.model 写入项目配置；目录不存在则创建
// WriteProviderModel sets provider.model in ./.qmpie/config.json, keeping the
// other keys of an existing file.
func WriteProviderModel(projectDir, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return errors.New("model is empty")
	}
	path := ProjectConfigPath(projectDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir .qmpie: %w", err)
	}
	var out map[string]any
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(stripJSONComments(data), &out); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if out == nil {
		out = make(map[string]any)
	}
	providerMap, _ := out["provider"].(map[string]any)
	if providerMap == nil {
		providerMap = make(map[string]any)
	}
	providerMap["model"] = model
	out["provider"] = providerMap
	return writeJSON(path, out)
}

// ToMap renders cfg for a config file; durations are written as strings so
// they read back through the duration decode hook.
func ToMap(cfg Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	intNumbers(root)
	if sess, ok := root["session"].(map[string]any); ok {
		sess["ttl"] = cfg.Session.TTL.String()
		sess["janitor_interval"] = cfg.Session.JanitorInterval.String()
	}
	return root, nil
}

// intNumbers replaces json.Number leaves with int64 or float64 so encoders
// that do not know json.Number (TOML) keep integers integral.
func intNumbers(m map[string]any) {
	for k, v := range m {
		switch t := v.(type) {
		case json.Number:
			if i, err := t.Int64(); err == nil {
				m[k] = i
			} else if f, err := t.Float64(); err == nil {
				m[k] = f
			}
		case map[string]any:
			intNumbers(t)
		}
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Render 以 json 或 toml 格式输出配置（密钥已隐去）
// Render encodes the redacted cfg as "json" (default) or "toml".
func Render(cfg Config, format string) ([]byte, error) {
	root, err := ToMap(cfg.Redacted())
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		data, err := json.MarshalIndent(root, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "toml":
		return toml.Marshal(root)
	default:
		return nil, fmt.Errorf("unknown config format %q", format)
	}
}
