package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Setting keys.
const (
	KeyBackendsFile     = "backends.file"
	KeyWorkbookFile     = "workbook.file"
	KeyWorkbookSheet    = "workbook.sheet"
	KeyWorkbookFont     = "workbook.font"
	KeySystemPromptFile = "prompt.system_file"
	KeyLLMTimeout       = "llm.timeout_seconds"
	KeyLLMParallel      = "llm.parallel"
	KeyLogLevel         = "logging.level"
	KeyLogDir           = "logging.dir"
	KeyLogRetainDays    = "logging.retain_days"
	KeyNotifyWebhook    = "notify.webhook"
	KeyNotifyTimeout    = "notify.timeout_seconds"
)

const envPrefix = "CELLFILL"

// Defaults holds the built-in value of every setting.
var Defaults = map[string]interface{}{
	KeyBackendsFile:     ".config",
	KeyWorkbookFile:     "prompts.xlsx",
	KeyWorkbookSheet:    "AI Prompts Comparison",
	KeyWorkbookFont:     "hei",
	KeySystemPromptFile: "systemprompt.txt",
	KeyLLMTimeout:       180,
	KeyLLMParallel:      false,
	KeyLogLevel:         "info",
	KeyLogDir:           ".cellfill/logs",
	KeyLogRetainDays:    7,
	KeyNotifyWebhook:    "",
	KeyNotifyTimeout:    30,
}

// legacyEnv maps settings to the environment names older deployments used.
// They win over everything else.
var legacyEnv = map[string]string{
	KeyBackendsFile: envPrefix + "_CONFIG_FILE",
	KeyWorkbookFile: envPrefix + "_EXCEL_FILE",
	KeyLLMTimeout:   envPrefix + "_API_TIMEOUT",
}

// Settings is the typed view of the merged configuration.
type Settings struct {
	BackendsFile     string
	WorkbookFile     string
	WorkbookSheet    string
	WorkbookFont     string
	SystemPromptFile string
	LLMTimeout       time.Duration
	LLMParallel      bool
	LogLevel         string
	LogDir           string
	LogRetainDays    int
	NotifyWebhook    string
	NotifyTimeout    time.Duration
}

// Paths captures the config files used during LoadConfig.
type Paths struct {
	Default string
	Global  string
	Project string
}

var currentConfig *viper.Viper

// LoadConfig merges the default, global and project files in that order, the
// project file winning. Missing files are skipped.
func LoadConfig(projectDir string) (Paths, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range Defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	paths := Paths{
		Default: defaultConfigPath(),
		Global:  globalConfigPath(),
		Project: projectConfigPath(projectDir),
	}

	for _, path := range []string{paths.Default, paths.Global, paths.Project} {
		if !isFile(path) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return paths, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	currentConfig = v
	return paths, nil
}

// GetConfig returns the effective value of key as text. Before LoadConfig only
// the environment and the built-in defaults are consulted.
func GetConfig(key string) (string, bool) {
	if name, ok := legacyEnv[key]; ok {
		if value, found := os.LookupEnv(name); found {
			return value, true
		}
	}

	if currentConfig != nil {
		if !currentConfig.IsSet(key) {
			return "", false
		}
		return valueToString(currentConfig.Get(key)), true
	}

	if value, found := os.LookupEnv(envName(key)); found {
		return value, true
	}
	if value, ok := Defaults[key]; ok {
		return valueToString(value), true
	}
	return "", false
}

// Current returns the typed settings. Values that fail to parse fall back to
// their defaults.
func Current() Settings {
	return Settings{
		BackendsFile:     text(KeyBackendsFile),
		WorkbookFile:     text(KeyWorkbookFile),
		WorkbookSheet:    text(KeyWorkbookSheet),
		WorkbookFont:     text(KeyWorkbookFont),
		SystemPromptFile: text(KeySystemPromptFile),
		LLMTimeout:       seconds(KeyLLMTimeout),
		LLMParallel:      flag(KeyLLMParallel),
		LogLevel:         text(KeyLogLevel),
		LogDir:           text(KeyLogDir),
		LogRetainDays:    positive(KeyLogRetainDays),
		NotifyWebhook:    text(KeyNotifyWebhook),
		NotifyTimeout:    seconds(KeyNotifyTimeout),
	}
}

// SetConfig persists key=value into the global config file, keeping any
// other values already there.
func SetConfig(key, value string) error {
	if key == "" {
		return errors.New("config key is required")
	}

	path := globalConfigPath()
	if path == "" {
		return errors.New("global config path is not available")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	global := viper.New()
	global.SetConfigType("yaml")
	global.SetConfigFile(path)
	if isFile(path) {
		if err := global.ReadInConfig(); err != nil {
			return fmt.Errorf("read global config: %w", err)
		}
	}

	global.Set(key, value)
	if err := global.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write global config: %w", err)
	}

	if currentConfig != nil {
		currentConfig.Set(key, value)
	}
	return nil
}

// ListConfig returns every known key with its effective value.
func ListConfig() (map[string]string, error) {
	if currentConfig == nil {
		return nil, errors.New("config not loaded")
	}

	keys := currentConfig.AllKeys()
	sort.Strings(keys)
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		out[key], _ = GetConfig(key)
	}
	return out, nil
}

func defaultConfigPath() string {
	if path := os.Getenv(envPrefix + "_DEFAULT_CONFIG"); path != "" {
		return path
	}

	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe), filepath.Join(filepath.Dir(exe), ".."))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	if dir := configDir(); dir != "" {
		dirs = append(dirs, dir)
	}

	for _, dir := range dirs {
		if candidate := filepath.Join(dir, "config", "default.yaml"); isFile(candidate) {
			return candidate
		}
	}
	return ""
}

func globalConfigPath() string {
	if path := os.Getenv(envPrefix + "_GLOBAL_CONFIG"); path != "" {
		return path
	}
	if dir := configDir(); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	return ""
}

func projectConfigPath(projectDir string) string {
	if info, err := os.Stat(projectDir); projectDir == "" || err != nil || !info.IsDir() {
		return ""
	}

	name := os.Getenv(envPrefix + "_PROJECT_CONFIG_NAME")
	if name == "" {
		name = ".cellfill.yaml"
	}
	return filepath.Join(projectDir, name)
}

func configDir() string {
	if path := os.Getenv(envPrefix + "_CONFIG_DIR"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "cellfill")
}

func isFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func text(key string) string {
	value, _ := GetConfig(key)
	return strings.TrimSpace(value)
}

func positive(key string) int {
	if parsed, err := strconv.Atoi(text(key)); err == nil && parsed > 0 {
		return parsed
	}
	fallback, _ := Defaults[key].(int)
	return fallback
}

func seconds(key string) time.Duration {
	return time.Duration(positive(key)) * time.Second
}

func flag(key string) bool {
	if parsed, err := strconv.ParseBool(text(key)); err == nil {
		return parsed
	}
	fallback, _ := Defaults[key].(bool)
	return fallback
}

func valueToString(value interface{}) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case []string:
		return strings.Join(typed, ",")
	case []interface{}:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(value)
	}
}
