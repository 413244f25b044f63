package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	plerrors "github.com/standardbeagle/patchloop/internal/errors"
	"github.com/standardbeagle/patchloop/internal/types"
)

// Validator validates configuration and sets smart defaults
type Validator struct{}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults validates configuration and applies smart defaults
// Returns an error if validation fails
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	v.setSmartDefaults(cfg)

	if err := v.validateProjectConfig(&cfg.Project); err != nil {
		return plerrors.NewConfigError("project", "", err)
	}

	if err := v.validateRepairConfig(&cfg.Repair); err != nil {
		return plerrors.NewConfigError("repair", "", err)
	}

	if err := v.validateValidateConfig(&cfg.Validate); err != nil {
		return plerrors.NewConfigError("validate", "", err)
	}

	if err := v.validateIndexConfig(&cfg.Index); err != nil {
		return plerrors.NewConfigError("index", "", err)
	}

	if err := v.validateProposalConfig(&cfg.Proposal); err != nil {
		return plerrors.NewConfigError("proposal", cfg.Proposal.Backoff, err)
	}

	if err := v.validateRetrieveConfig(&cfg.Retrieve); err != nil {
		return plerrors.NewConfigError("retrieve", "", err)
	}

	for _, pattern := range append(append([]string{}, cfg.Include...), cfg.Exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return plerrors.NewConfigError("include/exclude", pattern, errors.New("invalid glob pattern"))
		}
	}

	return nil
}

func (v *Validator) validateProjectConfig(project *Project) error {
	if project.Root == "" {
		return errors.New("project root cannot be empty")
	}

	if project.Name == "" {
		return errors.New("project name cannot be empty")
	}

	if project.Language == "" {
		return errors.New("project language cannot be empty and could not be detected")
	}

	if _, err := types.ParseLanguage(string(project.Language)); err != nil {
		return err
	}

	return nil
}

func (v *Validator) validateRepairConfig(repair *Repair) error {
	if repair.MaxIterations < 0 {
		return fmt.Errorf("MaxIterations cannot be negative, got %d", repair.MaxIterations)
	}

	if repair.MaxIterations > 20 {
		return fmt.Errorf("MaxIterations should not exceed 20, got %d", repair.MaxIterations)
	}

	if repair.WindowStep <= 0 {
		return fmt.Errorf("WindowStep must be positive, got %d", repair.WindowStep)
	}

	return nil
}

func (v *Validator) validateValidateConfig(val *Validate) error {
	if val.TimeoutSec <= 0 {
		return fmt.Errorf("TimeoutSec must be positive, got %d", val.TimeoutSec)
	}

	for lang, cmd := range val.Commands {
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("command for %s cannot be empty", lang)
		}
	}

	return nil
}

func (v *Validator) validateIndexConfig(index *Index) error {
	if index.MaxFileSize <= 0 {
		return fmt.Errorf("MaxFileSize must be positive, got %d", index.MaxFileSize)
	}

	if index.MaxFileSize > 100*1024*1024 {
		return fmt.Errorf("MaxFileSize should not exceed 100MB, got %d", index.MaxFileSize)
	}

	if index.CacheSize < 0 {
		return fmt.Errorf("CacheSize cannot be negative, got %d", index.CacheSize)
	}

	return nil
}

func (v *Validator) validateProposalConfig(p *Proposal) error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("MaxAttempts must be at least 1, got %d", p.MaxAttempts)
	}

	if p.WaitMs < 0 || p.MaxWaitMs < 0 {
		return fmt.Errorf("wait times cannot be negative, got %d/%d", p.WaitMs, p.MaxWaitMs)
	}

	switch p.Backoff {
	case "fixed", "exponential":
	default:
		return fmt.Errorf("backoff must be fixed or exponential, got %q", p.Backoff)
	}

	if p.RateLimitExitCode <= 0 || p.RateLimitExitCode > 255 {
		return fmt.Errorf("RateLimitExitCode must be in 1..255, got %d", p.RateLimitExitCode)
	}

	return nil
}

func (v *Validator) validateRetrieveConfig(r *Retrieve) error {
	if r.MaxDocuments < 0 {
		return fmt.Errorf("MaxDocuments cannot be negative, got %d", r.MaxDocuments)
	}

	if r.MinScore < 0 || r.MinScore > 1 {
		return fmt.Errorf("MinScore must be between 0 and 1, got %v", r.MinScore)
	}

	return nil
}

// setSmartDefaults fills zero values a partial config file leaves behind
func (v *Validator) setSmartDefaults(cfg *Config) {
	if cfg.Repair.WindowStep == 0 {
		cfg.Repair.WindowStep = types.DefaultWindowStep
	}

	if cfg.Validate.TimeoutSec == 0 {
		cfg.Validate.TimeoutSec = int(types.DefaultValidateTimeout.Seconds())
	}

	if cfg.Validate.Commands == nil {
		cfg.Validate.Commands = DefaultValidateCommands()
	}

	if cfg.Index.MaxFileSize == 0 {
		cfg.Index.MaxFileSize = types.DefaultMaxFileSize
	}

	if cfg.Proposal.MaxAttempts == 0 {
		cfg.Proposal.MaxAttempts = 1
	}

	if cfg.Proposal.Backoff == "" {
		cfg.Proposal.Backoff = "fixed"
	}

	if cfg.Proposal.RateLimitExitCode == 0 {
		cfg.Proposal.RateLimitExitCode = 75
	}

	if cfg.Retrieve.MaxDocuments == 0 {
		cfg.Retrieve.MaxDocuments = types.DefaultMaxDocuments
	}
}

// ValidateConfig is a convenience function for quick validation
func ValidateConfig(cfg *Config) error {
	validator := NewValidator()
	return validator.ValidateAndSetDefaults(cfg)
}
