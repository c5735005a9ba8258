// Package gpu holds the renderer start-up choices the compositor reports:
// shader precaching, WebGL availability and the media backend.
package gpu

import (
	"fmt"
	"strings"

	"github.com/grafana/xk6-compositor/log"
)

// ShaderPrecacheStrategy trades start-up time against runtime stalls.
type ShaderPrecacheStrategy int

// Precache strategies.
const (
	// ShaderPrecacheAsync compiles shaders in the background.
	ShaderPrecacheAsync ShaderPrecacheStrategy = iota
	// ShaderPrecacheNone compiles shaders on first use.
	ShaderPrecacheNone
	// ShaderPrecacheFull compiles every shader before the first frame.
	ShaderPrecacheFull
)

// ParseShaderPrecacheStrategy accepts the config and CLI spellings.
func ParseShaderPrecacheStrategy(s string) (ShaderPrecacheStrategy, error) {
	switch strings.ToLower(s) {
	case "none", "off", "disabled":
		return ShaderPrecacheNone, nil
	case "async", "background", "":
		return ShaderPrecacheAsync, nil
	case "full", "sync", "synchronous":
		return ShaderPrecacheFull, nil
	}
	return ShaderPrecacheAsync, fmt.Errorf("unknown shader precache strategy %q", s)
}

func (s ShaderPrecacheStrategy) String() string {
	switch s {
	case ShaderPrecacheNone:
		return "none"
	case ShaderPrecacheAsync:
		return "async"
	case ShaderPrecacheFull:
		return "full"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// Description is a one-line explanation suitable for --help output.
func (s ShaderPrecacheStrategy) Description() string {
	switch s {
	case ShaderPrecacheNone:
		return "No precaching - fastest startup, potential runtime stalls"
	case ShaderPrecacheFull:
		return "Full precaching - slowest startup, smoothest runtime"
	default:
		return "Async compilation - balanced startup and runtime performance"
	}
}

// ShaderPrecacheConfig configures shader compilation at start-up.
type ShaderPrecacheConfig struct {
	Strategy         ShaderPrecacheStrategy `mapstructure:"-" yaml:"-"`
	StrategyName     string                 `mapstructure:"strategy" yaml:"strategy" validate:"omitempty,oneof=none off disabled async background full sync synchronous"`
	OptimizedShaders bool                   `mapstructure:"optimized" yaml:"optimized"`
	ShaderDir        string                 `mapstructure:"dir" yaml:"dir,omitempty"`
}

// BalancedShaderPrecache is the default: async with optimized shaders.
func BalancedShaderPrecache() ShaderPrecacheConfig {
	return ShaderPrecacheConfig{Strategy: ShaderPrecacheAsync, StrategyName: "async", OptimizedShaders: true}
}

// FastStartupShaderPrecache skips precaching, for development and tests.
func FastStartupShaderPrecache() ShaderPrecacheConfig {
	return ShaderPrecacheConfig{Strategy: ShaderPrecacheNone, StrategyName: "none"}
}

// SmoothRuntimeShaderPrecache compiles everything up front.
func SmoothRuntimeShaderPrecache() ShaderPrecacheConfig {
	return ShaderPrecacheConfig{Strategy: ShaderPrecacheFull, StrategyName: "full", OptimizedShaders: true}
}

// Resolve parses StrategyName into Strategy.
func (c *ShaderPrecacheConfig) Resolve() error {
	s, err := ParseShaderPrecacheStrategy(c.StrategyName)
	if err != nil {
		return err
	}
	c.Strategy = s
	return nil
}

// CompilationProgress tracks a precache run.
type CompilationProgress struct {
	Total    uint32
	Compiled uint32
	Failed   uint32
	Complete bool

	logger *log.Logger
}

// NewCompilationProgress starts tracking total shaders.
func NewCompilationProgress(total uint32, logger *log.Logger) *CompilationProgress {
	return &CompilationProgress{Total: total, Complete: total == 0, logger: logger}
}

// Percentage returns how much of the run has finished, failures included.
func (p *CompilationProgress) Percentage() float32 {
	if p.Total == 0 {
		return 100
	}
	return float32(p.Compiled+p.Failed) / float32(p.Total) * 100
}

// HasFailures reports whether any shader failed.
func (p *CompilationProgress) HasFailures() bool { return p.Failed > 0 }

// OnCompiled records a compiled shader.
func (p *CompilationProgress) OnCompiled() {
	p.Compiled++
	p.checkComplete()
}

// OnFailed records a failed shader.
func (p *CompilationProgress) OnFailed() {
	p.Failed++
	p.logger.Warnf("ShaderPrecache:OnFailed", "shader compilation failed (%d failures so far)", p.Failed)
	p.checkComplete()
}

func (p *CompilationProgress) checkComplete() {
	if p.Complete || p.Compiled+p.Failed < p.Total {
		return
	}
	p.Complete = true
	if p.Failed > 0 {
		p.logger.Warnf("ShaderPrecache:complete", "%d compiled, %d failed", p.Compiled, p.Failed)
		return
	}
	p.logger.Infof("ShaderPrecache:complete", "%d shaders compiled", p.Compiled)
}
