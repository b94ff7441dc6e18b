package logging

import (
	"fmt"

	"panierfacile-pricing/internal/logging/adapters"
	"panierfacile-pricing/internal/logging/types"
)

// AdapterFactory builds adapters from their configuration entries
type AdapterFactory struct{}

func NewAdapterFactory() *AdapterFactory {
	return &AdapterFactory{}
}

// CreateAdapter builds the adapter named by adapterConfig.Type
func (f *AdapterFactory) CreateAdapter(adapterConfig types.AdapterConfig) (types.LogAdapter, error) {
	switch adapterConfig.Type {
	case "stdout":
		return adapters.NewStdoutAdapter(adapterConfig.Name, adapters.StdoutConfig{
			Format:    stringOption(adapterConfig.Options, "format", "json"),
			Colorized: boolOption(adapterConfig.Options, "colorized", false),
		}), nil
	case "file":
		cfg := adapters.FileConfig{
			FilePath:    stringOption(adapterConfig.Options, "file_path", ""),
			Format:      stringOption(adapterConfig.Options, "format", "json"),
			MaxSize:     int64(intOption(adapterConfig.Options, "max_size", 0)),
			MaxBackups:  intOption(adapterConfig.Options, "max_backups", 5),
			Compress:    boolOption(adapterConfig.Options, "compress", false),
			CreateDirs:  boolOption(adapterConfig.Options, "create_dirs", true),
			SyncOnWrite: boolOption(adapterConfig.Options, "sync_on_write", false),
		}
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file_path is required for file adapter")
		}
		return adapters.NewFileAdapter(adapterConfig.Name, cfg)
	default:
		return nil, fmt.Errorf("unsupported adapter type: %s", adapterConfig.Type)
	}
}

func stringOption(options map[string]interface{}, key, fallback string) string {
	if s, ok := options[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func intOption(options map[string]interface{}, key string, fallback int) int {
	switch v := options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func boolOption(options map[string]interface{}, key string, fallback bool) bool {
	if b, ok := options[key].(bool); ok {
		return b
	}
	return fallback
}
