// Package conversation models chat history as an append-only sequence of
// turns, each made of tagged parts.
package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type PartKind string

const (
	PartText           PartKind = "text"
	PartToolInvocation PartKind = "tool-invocation"
	PartToolResult     PartKind = "tool-result"
)

// ToolInvocation is a tool call proposed by the model.
type ToolInvocation struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult answers the invocation with the same ID.
type ToolResult struct {
	InvocationID string          `json:"invocation_id"`
	Name         string          `json:"name"`
	Output       json.RawMessage `json:"output"`
	IsError      bool            `json:"is_error,omitempty"`
}

// Part is a tagged variant. Exactly one payload matches Kind.
type Part struct {
	Kind       PartKind        `json:"type"`
	Text       string          `json:"text,omitempty"`
	Invocation *ToolInvocation `json:"invocation,omitempty"`
	Result     *ToolResult     `json:"result,omitempty"`
}

func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

func InvocationPart(inv ToolInvocation) Part {
	return Part{Kind: PartToolInvocation, Invocation: &inv}
}

func ResultPart(res ToolResult) Part {
	return Part{Kind: PartToolResult, Result: &res}
}

// Validate checks that the payload matches the tag.
func (p Part) Validate() error {
	switch p.Kind {
	case PartText:
		if p.Invocation != nil || p.Result != nil {
			return fmt.Errorf("text part carries a tool payload")
		}
	case PartToolInvocation:
		if p.Invocation == nil || p.Invocation.ID == "" || p.Invocation.Name == "" {
			return fmt.Errorf("tool-invocation part needs id and name")
		}
	case PartToolResult:
		if p.Result == nil || p.Result.InvocationID == "" {
			return fmt.Errorf("tool-result part needs invocation_id")
		}
	default:
		return fmt.Errorf("unknown part type %q", p.Kind)
	}
	return nil
}

type Turn struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// UserTurn is a convenience for a plain text user message.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

// Text concatenates the text parts of the turn.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		if p.Kind == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Pending returns the invocations that have no matching result yet.
func (t Turn) Pending() []ToolInvocation {
	answered := make(map[string]struct{})
	for _, p := range t.Parts {
		if p.Kind == PartToolResult {
			answered[p.Result.InvocationID] = struct{}{}
		}
	}
	var pending []ToolInvocation
	for _, p := range t.Parts {
		if p.Kind != PartToolInvocation {
			continue
		}
		if _, ok := answered[p.Invocation.ID]; !ok {
			pending = append(pending, *p.Invocation)
		}
	}
	return pending
}

// Complete reports whether every invocation in the turn has been answered.
func (t Turn) Complete() bool {
	return len(t.Pending()) == 0
}

// Validate checks the role and every part. In an assistant turn each result must
// answer an earlier invocation and every invocation must be answered.
func (t Turn) Validate() error {
	if t.Role != RoleUser && t.Role != RoleAssistant {
		return fmt.Errorf("unknown role %q", t.Role)
	}
	invoked := make(map[string]bool)
	for i, p := range t.Parts {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
		if t.Role == RoleUser && p.Kind != PartText {
			return fmt.Errorf("part %d: user turns only carry text", i)
		}
		switch p.Kind {
		case PartToolInvocation:
			if _, dup := invoked[p.Invocation.ID]; dup {
				return fmt.Errorf("part %d: duplicate invocation id %q", i, p.Invocation.ID)
			}
			invoked[p.Invocation.ID] = false
		case PartToolResult:
			answered, ok := invoked[p.Result.InvocationID]
			if !ok {
				return fmt.Errorf("part %d: result for unknown invocation %q", i, p.Result.InvocationID)
			}
			if answered {
				return fmt.Errorf("part %d: invocation %q answered twice", i, p.Result.InvocationID)
			}
			invoked[p.Result.InvocationID] = true
		}
	}
	if pending := t.Pending(); len(pending) > 0 {
		return fmt.Errorf("invocation %q has no result", pending[0].ID)
	}
	return nil
}

// Conversation is owned by the caller. Turns are only ever appended.
type Conversation struct {
	Turns []Turn `json:"messages"`
}

func New(turns ...Turn) *Conversation {
	return &Conversation{Turns: append([]Turn(nil), turns...)}
}

func (c *Conversation) Append(t Turn) {
	c.Turns = append(c.Turns, t)
}

// Last returns the most recent turn, or false if the conversation is empty.
func (c *Conversation) Last() (Turn, bool) {
	if len(c.Turns) == 0 {
		return Turn{}, false
	}
	return c.Turns[len(c.Turns)-1], true
}

// Validate checks every turn and that the conversation ends with a user turn,
// which is what a new request must look like.
func (c *Conversation) Validate() error {
	if len(c.Turns) == 0 {
		return fmt.Errorf("conversation is empty")
	}
	for i, t := range c.Turns {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("turn %d: %w", i, err)
		}
	}
	if last, _ := c.Last(); last.Role != RoleUser {
		return fmt.Errorf("last turn must come from the user")
	}
	return nil
}

// Trim keeps at most n trailing turns, always starting on a user turn.
func (c *Conversation) Trim(n int) {
	if n <= 0 || len(c.Turns) <= n {
		return
	}
	turns := c.Turns[len(c.Turns)-n:]
	for len(turns) > 0 && turns[0].Role != RoleUser {
		turns = turns[1:]
	}
	c.Turns = append([]Turn(nil), turns...)
}
