package proposal

import (
	"fmt"
	"strings"

	"github.com/standardbeagle/patchloop/internal/types"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to the external model command.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// File is a retrieved file handed to the proposer.
type File struct {
	Path    string
	Content string
}

// RenderNumbered prefixes every line with its zero-based index, "[i]line".
// The indices are the ones a proposal's position refers to.
func RenderNumbered(content string) string {
	var sb strings.Builder
	i := 0
	for len(content) > 0 {
		line := content
		if j := strings.IndexByte(content, '\n'); j >= 0 {
			line = content[:j+1]
		}
		fmt.Fprintf(&sb, "[%d]%s", i, line)
		content = content[len(line):]
		i++
	}
	return sb.String()
}

// BuildContext wraps each numbered file in start and end markers.
func BuildContext(files []File) string {
	var sb strings.Builder
	for _, f := range files {
		sb.WriteString("[start of " + f.Path + "]")
		sb.WriteString(RenderNumbered(f.Content))
		sb.WriteString("[end of " + f.Path + "]\n")
	}
	return sb.String()
}

func systemPrompt(lang types.Language, codeContext string) string {
	return fmt.Sprintf(`You are a %s development engineer.
You are given part of a code base and a change request. Every line of every file is prefixed with its line number in square brackets. Keep the indentation of the surrounding code.

<code>
%s
</code>

Add imports when needed. Answer STRICTLY in the format below, one block per place that changes:
within <file></file> put the file path,
within <position></position> put the start and end line numbers of the changed snippet separated by a comma,
within <original></original> put the original snippet, or ... when the patch is a pure insertion,
within <patched></patched> put the new code.
`+"```"+`
# modification 1
<file>...</file>
<position>...</position>
<original>...</original>
<patched>...</patched>
# modification 2
...
`+"```", lang, codeContext)
}

func retryPrompt(failure string) string {
	return "The previous patch caused an error when it was applied or checked. Error message: <error>" +
		failure + "</error>\nFind the likely cause and give a corrected or different solution. Do not repeat the previous answer."
}

// Conversation accumulates the chat history across rounds: every parsed
// answer and every failure message is kept so a retry sees what was tried.
// Next stages a request; the history only changes when Record commits it,
// so a call that failed in transport can be sent again unchanged.
type Conversation struct {
	language types.Language
	messages []Message
	pending  []Message
}

// NewConversation starts an empty history for a project language.
func NewConversation(lang types.Language) *Conversation {
	return &Conversation{language: lang}
}

// Next returns the messages to send for req.
func (c *Conversation) Next(req Request) []Message {
	if !req.IsRetry() || len(c.messages) == 0 {
		c.pending = []Message{
			{Role: RoleSystem, Content: systemPrompt(c.language, req.Context)},
			{Role: RoleUser, Content: "<requirement>" + req.Instruction + "</requirement>"},
		}
	} else {
		c.pending = append(append([]Message(nil), c.messages...), Message{Role: RoleUser, Content: retryPrompt(req.Failure)})
	}
	return append([]Message(nil), c.pending...)
}

// Record commits the staged request together with its parsed answer.
func (c *Conversation) Record(mods []types.Modification) {
	c.messages = append(c.pending, Message{
		Role:    RoleAssistant,
		Content: "<parsed_ai_response>" + Format(mods) + "</parsed_ai_response>",
	})
	c.pending = nil
}

// Messages returns a copy of the committed history.
func (c *Conversation) Messages() []Message {
	return append([]Message(nil), c.messages...)
}
