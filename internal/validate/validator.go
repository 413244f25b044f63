// Package validate runs the external language checker against a modified
// project tree.
package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/standardbeagle/patchloop/internal/config"
	"github.com/standardbeagle/patchloop/internal/debug"
	"github.com/standardbeagle/patchloop/internal/types"
)

// FilePlaceholder in a command is replaced by the shell-quoted path of the
// file being validated, relative to the project root.
const FilePlaceholder = "{file}"

// ErrNoCommand is reported when no checker is configured for a language.
var ErrNoCommand = errors.New("no validation command configured")

// Validator invokes one shell command per language in the project root.
type Validator struct {
	root     string
	timeout  time.Duration
	commands map[types.Language]string
	stdin    map[types.Language]string
	shell    string
}

// New builds a validator from configuration.
func New(cfg *config.Config) *Validator {
	v := &Validator{
		root:     cfg.Project.Root,
		timeout:  time.Duration(cfg.Validate.TimeoutSec) * time.Second,
		commands: make(map[types.Language]string),
		stdin:    make(map[types.Language]string),
		shell:    "sh",
	}
	for _, lang := range types.Languages() {
		if cmd, in, ok := cfg.ValidateCommand(lang); ok {
			v.commands[lang] = cmd
			if in != "" {
				v.stdin[lang] = in
			}
		}
	}
	if v.timeout <= 0 {
		v.timeout = types.DefaultValidateTimeout
	}
	return v
}

// NewWithCommand builds a validator that uses one command for lang.
func NewWithCommand(root string, lang types.Language, command string, timeout time.Duration) *Validator {
	if timeout <= 0 {
		timeout = types.DefaultValidateTimeout
	}
	return &Validator{
		root:     root,
		timeout:  timeout,
		commands: map[types.Language]string{lang: command},
		stdin:    map[types.Language]string{},
		shell:    "sh",
	}
}

// Command returns the shell command that would validate file.
func (v *Validator) Command(file string, lang types.Language) (string, bool) {
	tmpl, ok := v.commands[lang]
	if !ok || strings.TrimSpace(tmpl) == "" {
		return "", false
	}
	return strings.ReplaceAll(tmpl, FilePlaceholder, shellQuote(file)), true
}

// Validate runs the checker for lang. The verdict is a pass only when the
// process exits zero before the timeout; a timed out process is killed
// together with its children. Validate never returns an error: every
// failure, including a missing binary, becomes a failed result.
func (v *Validator) Validate(ctx context.Context, file string, lang types.Language) types.ValidationResult {
	res := types.ValidationResult{File: file}

	command, ok := v.Command(file, lang)
	if !ok {
		res.Diagnostic = fmt.Sprintf("%v for %s", ErrNoCommand, lang)
		return res
	}

	runCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, v.shell, "-c", command)
	cmd.Dir = v.root
	configureProcessGroup(cmd)
	if in, ok := v.stdin[lang]; ok {
		cmd.Stdin = strings.NewReader(in)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)

	switch {
	case runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		res.TimedOut = true
		res.Diagnostic = fmt.Sprintf("validation timed out after %s: %s\n%s", v.timeout, command, out.String())
	case err != nil:
		res.Diagnostic = out.String()
		if res.Diagnostic == "" {
			res.Diagnostic = err.Error()
		}
	default:
		res.Passed = true
	}

	debug.LogValidate("%s (%s) passed=%v timed_out=%v in %s\n", file, command, res.Passed, res.TimedOut, res.Duration)
	return res
}

// Message renders a result the way it is fed back to the proposer.
func Message(res types.ValidationResult) string {
	if res.Passed {
		return fmt.Sprintf("Syntax check passed for %s.", res.File)
	}
	return fmt.Sprintf("Syntax check failed for %s.\n%s", res.File, res.Diagnostic)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
