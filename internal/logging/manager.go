package logging

import (
	"fmt"
	"sync"

	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/logging/adapters"
	"panierfacile-pricing/internal/logging/types"
)

// Manager owns the process logger and the adapters built from config
type Manager struct {
	factory *AdapterFactory
	logger  *MultiLogger
}

func NewManager() *Manager {
	return &Manager{
		factory: NewAdapterFactory(),
		logger:  NewMultiLogger(),
	}
}

// Initialize configures level and adapters. Without an adapters list a
// single stdout adapter is built from the flat level/format keys.
func (m *Manager) Initialize(cfg config.LoggingConfig) error {
	m.logger.SetLevel(ParseLogLevel(cfg.Level))

	if len(cfg.Adapters) == 0 {
		return m.logger.AddAdapter(adapters.NewStdoutAdapter("stdout", adapters.StdoutConfig{
			Format: cfg.Format,
		}))
	}

	for _, ac := range cfg.Adapters {
		if !ac.Enabled {
			continue
		}
		adapter, err := m.factory.CreateAdapter(types.AdapterConfig{
			Name:    ac.Name,
			Type:    ac.Type,
			Enabled: ac.Enabled,
			Options: ac.Options,
		})
		if err != nil {
			return fmt.Errorf("failed to create adapter %s: %w", ac.Name, err)
		}
		if err := m.logger.AddAdapter(adapter); err != nil {
			return fmt.Errorf("failed to add adapter %s: %w", ac.Name, err)
		}
	}
	return nil
}

func (m *Manager) GetLogger() Logger {
	return m.logger
}

func (m *Manager) Close() error {
	return m.logger.Close()
}

var (
	globalMu      sync.Mutex
	globalManager *Manager
)

// InitializeLogging replaces the global logger with one built from cfg
func InitializeLogging(cfg config.LoggingConfig) error {
	manager := NewManager()
	if err := manager.Initialize(cfg); err != nil {
		return err
	}
	globalMu.Lock()
	globalManager = manager
	globalMu.Unlock()
	return nil
}

// SetGlobalLogger installs a prepared logger, mainly for tests
func SetGlobalLogger(logger *MultiLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalManager = &Manager{factory: NewAdapterFactory(), logger: logger}
}

// GetGlobalLogger returns the process logger, creating a json stdout
// logger on first use when InitializeLogging was never called.
func GetGlobalLogger() Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalManager == nil {
		manager := NewManager()
		manager.logger.AddAdapter(adapters.NewStdoutAdapter("fallback_stdout", adapters.StdoutConfig{Format: "json"}))
		globalManager = manager
	}
	return globalManager.GetLogger()
}

// CloseLogging flushes and closes the global adapters
func CloseLogging() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalManager != nil {
		return globalManager.Close()
	}
	return nil
}

// LogWithRequestID scopes the global logger to one HTTP request
func LogWithRequestID(requestID string) Logger {
	return GetGlobalLogger().WithField("request_id", requestID)
}

func Debug(message string, fields ...map[string]interface{}) {
	GetGlobalLogger().Debug(message, fields...)
}

func Info(message string, fields ...map[string]interface{}) {
	GetGlobalLogger().Info(message, fields...)
}

func Warn(message string, fields ...map[string]interface{}) {
	GetGlobalLogger().Warn(message, fields...)
}

func Error(message string, fields ...map[string]interface{}) {
	GetGlobalLogger().Error(message, fields...)
}

func Fatal(message string, fields ...map[string]interface{}) {
	GetGlobalLogger().Fatal(message, fields...)
}
