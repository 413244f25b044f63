package proposal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/standardbeagle/patchloop/internal/debug"
	plerrors "github.com/standardbeagle/patchloop/internal/errors"
	"github.com/standardbeagle/patchloop/internal/types"
)

// CommandInput is written as JSON to the proposer command's stdin.
type CommandInput struct {
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
	Request  Request   `json:"request"`
}

// commandOutput is the optional structured form of the command's stdout.
// Plain text output is accepted as the model answer as is.
type commandOutput struct {
	Content     string `json:"content"`
	TotalTokens int    `json:"total_tokens"`
}

// CommandProposer runs an external command that wraps the language model.
// The model call itself is outside this program; the command receives the
// chat history on stdin and prints the model's answer.
type CommandProposer struct {
	command           string
	dir               string
	model             string
	timeout           time.Duration
	rateLimitExitCode int

	mu           sync.Mutex
	conversation *Conversation
	tokens       int
}

// CommandOptions configures a CommandProposer.
type CommandOptions struct {
	Command           string
	Dir               string
	Model             string
	Language          types.Language
	Timeout           time.Duration
	RateLimitExitCode int
}

// NewCommandProposer builds a proposer from options.
func NewCommandProposer(opts CommandOptions) *CommandProposer {
	if opts.Timeout <= 0 {
		opts.Timeout = types.DefaultValidateTimeout
	}
	return &CommandProposer{
		command:           opts.Command,
		dir:               opts.Dir,
		model:             opts.Model,
		timeout:           opts.Timeout,
		rateLimitExitCode: opts.RateLimitExitCode,
		conversation:      NewConversation(opts.Language),
	}
}

// Propose sends the conversation for req and parses the answer.
func (p *CommandProposer) Propose(ctx context.Context, req Request) ([]types.Modification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if strings.TrimSpace(p.command) == "" {
		return nil, fmt.Errorf("proposal command is not configured")
	}

	input, err := json.Marshal(CommandInput{
		Model:    p.model,
		Messages: p.conversation.Next(req),
		Request:  req,
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", p.command)
	cmd.Dir = p.dir
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && p.rateLimitExitCode > 0 && exitErr.ExitCode() == p.rateLimitExitCode {
			debug.LogRepair("proposer rate limited: %s\n", strings.TrimSpace(stderr.String()))
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, strings.TrimSpace(stderr.String()))
		}
		return nil, plerrors.NewProcessError(p.command, p.dir, stderr.Bytes(), err)
	}

	answer := stdout.String()
	var structured commandOutput
	if json.Unmarshal(stdout.Bytes(), &structured) == nil && structured.Content != "" {
		answer = structured.Content
		p.tokens += structured.TotalTokens
	}

	mods, err := Parse(answer)
	p.conversation.Record(mods)
	if err != nil {
		debug.LogRepair("proposal output has no modification record (%d bytes)\n", len(answer))
		return nil, err
	}
	return mods, nil
}

// TokenUsage returns the total tokens reported by the command so far.
func (p *CommandProposer) TokenUsage() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokens
}

// Conversation exposes the accumulated chat history.
func (p *CommandProposer) Conversation() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conversation.Messages()
}
