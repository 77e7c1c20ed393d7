package state

import "path/filepath"

const defaultConfigFileName = "config.yaml"

// GlobalOptions contains global config values that apply for all k6browser
// sub-commands.
type GlobalOptions struct {
	ConfigFilePath string
	NoColor        bool
	LogOutput      string
	LogFormat      string
	Verbose        bool
}

// GetDefaultGlobalOptions returns the default global flags.
func GetDefaultGlobalOptions(confDir string) GlobalOptions {
	return GlobalOptions{
		ConfigFilePath: filepath.Join(confDir, "k6browser", defaultConfigFileName),
		LogOutput:      "stderr",
	}
}

// ConsolidateGlobalFlags applies the K6BROWSER_* and NO_COLOR variables in env
// over defaultFlags.
func ConsolidateGlobalFlags(defaultFlags GlobalOptions, env map[string]string) GlobalOptions {
	result := defaultFlags

	if val, ok := env["K6BROWSER_CONFIG"]; ok {
		result.ConfigFilePath = val
	}
	if val, ok := env["K6BROWSER_LOG_OUTPUT"]; ok {
		result.LogOutput = val
	}
	if val, ok := env["K6BROWSER_LOG_FORMAT"]; ok {
		result.LogFormat = val
	}
	if env["K6BROWSER_NO_COLOR"] != "" {
		result.NoColor = true
	}
	// Support https://no-color.org/, even an empty value disables colors.
	if _, ok := env["NO_COLOR"]; ok {
		result.NoColor = true
	}
	return result
}
