package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Backend type names accepted by the factory.
const (
	BackendAuto          = "auto"
	BackendMalgo         = "malgo"
	BackendSystemCommand = "system_command"
)

// Factory errors
var (
	ErrInvalidBackendType    = errors.New("invalid backend type")
	ErrBackendCreationFailed = errors.New("backend creation failed")
)

// coldStart reports true exactly once per process. The first engine created
// after a restart must not trust any session state a previous incarnation
// left behind; adapters log it and start from a clean slate.
var coldStartOnce sync.Once

func coldStart() bool {
	first := false
	coldStartOnce.Do(func() { first = true })
	return first
}

// Factory creates Engine instances based on configuration.
type Factory interface {
	CreateEngine(backendType string, port CallbackPort) (Engine, error)
	SupportedBackends() []string
	IsValidBackendType(backendType string) bool
}

// DefaultFactory implements Factory with platform detection.
type DefaultFactory struct {
	isWSLFunc     func() bool
	commandExists func(string) bool
}

// NewFactory creates a DefaultFactory with real platform detection.
func NewFactory() *DefaultFactory {
	return &DefaultFactory{
		isWSLFunc:     IsWSL,
		commandExists: CommandExists,
	}
}

// NewFactoryWithDependencies creates a factory with injected detection
// functions for testing.
func NewFactoryWithDependencies(isWSLFunc func() bool, commandExists func(string) bool) *DefaultFactory {
	return &DefaultFactory{
		isWSLFunc:     isWSLFunc,
		commandExists: commandExists,
	}
}

// CreateEngine creates an Engine of the requested backend type bound to
// port. An empty type defaults to auto-detection.
func (f *DefaultFactory) CreateEngine(backendType string, port CallbackPort) (Engine, error) {
	if backendType == "" {
		backendType = BackendAuto
	}
	if coldStart() {
		slog.Debug("first engine of this process, starting from a clean slate")
	}
	slog.Debug("creating audio engine", "type", backendType)

	switch backendType {
	case BackendAuto:
		return f.createAutoEngine(port)
	case BackendMalgo:
		return NewMalgo(port), nil
	case BackendSystemCommand:
		return f.createCommandEngine(port)
	default:
		slog.Error("invalid backend type requested", "type", backendType)
		return nil, fmt.Errorf("%w: %s", ErrInvalidBackendType, backendType)
	}
}

// SupportedBackends returns all backend types the factory can create.
func (f *DefaultFactory) SupportedBackends() []string {
	return []string{BackendAuto, BackendSystemCommand, BackendMalgo}
}

// IsValidBackendType checks if a backend type is supported. Empty is valid
// and means auto.
func (f *DefaultFactory) IsValidBackendType(backendType string) bool {
	if backendType == "" {
		return true
	}
	for _, t := range f.SupportedBackends() {
		if backendType == t {
			return true
		}
	}
	return false
}

func (f *DefaultFactory) createAutoEngine(port CallbackPort) (Engine, error) {
	optimal := detectOptimalBackendWithChecker(f.isWSLFunc(), f.commandExists)
	slog.Debug("auto-detection result", "selected_type", optimal)

	switch optimal {
	case BackendSystemCommand:
		return f.createCommandEngine(port)
	case BackendMalgo:
		return NewMalgo(port), nil
	default:
		return nil, fmt.Errorf("%w: auto-detection failed", ErrBackendCreationFailed)
	}
}

func (f *DefaultFactory) createCommandEngine(port CallbackPort) (Engine, error) {
	cmd := preferredSystemCommandWithChecker(f.commandExists)
	if cmd == "" {
		slog.Error("no system audio commands available")
		return nil, fmt.Errorf("%w: no system audio commands found", ErrNotAvailable)
	}
	return NewCommand(port, cmd), nil
}
