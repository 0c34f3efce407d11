package conversation

import (
	"encoding/json"
	"testing"
)

func TestTurnPending(t *testing.T) {
	turn := Turn{Role: RoleAssistant}
	turn.Parts = append(turn.Parts,
		TextPart("Let me check."),
		InvocationPart(ToolInvocation{ID: "a", Name: "search_recipes", Input: json.RawMessage(`{"query":"soup"}`)}),
		InvocationPart(ToolInvocation{ID: "b", Name: "manage_pantry", Input: json.RawMessage(`{}`)}),
		ResultPart(ToolResult{InvocationID: "b", Name: "manage_pantry", Output: json.RawMessage(`{"items":[]}`)}),
	)

	pending := turn.Pending()
	if len(pending) != 1 || pending[0].ID != "a" {
		t.Fatalf("Expected invocation 'a' to be pending, got %+v", pending)
	}
	if turn.Complete() {
		t.Error("Turn with a pending invocation must not be complete")
	}

	turn.Parts = append(turn.Parts, ResultPart(ToolResult{InvocationID: "a", Name: "search_recipes", Output: json.RawMessage(`{"recipes":[]}`)}))
	if !turn.Complete() {
		t.Error("Expected turn to be complete once every invocation has a result")
	}
	if turn.Text() != "Let me check." {
		t.Errorf("Unexpected text %q", turn.Text())
	}
}

func call(id string) Part {
	return InvocationPart(ToolInvocation{ID: id, Name: "search_recipes", Input: json.RawMessage(`{"query":"soup"}`)})
}

func answer(id string) Part {
	return ResultPart(ToolResult{InvocationID: id, Name: "search_recipes", Output: json.RawMessage(`{"recipes":[]}`)})
}

func assistant(parts ...Part) Turn {
	return Turn{Role: RoleAssistant, Parts: parts}
}

func TestConversationValidate(t *testing.T) {
	tests := []struct {
		name    string
		conv    *Conversation
		wantErr bool
	}{
		{"Empty", New(), true},
		{"SingleUserTurn", New(UserTurn("hi")), false},
		{"EndsWithAssistant", New(UserTurn("hi"), Turn{Role: RoleAssistant, Parts: []Part{TextPart("hello")}}), true},
		{"UnknownRole", New(Turn{Role: "system", Parts: []Part{TextPart("x")}}), true},
		{"UserToolResult", New(Turn{Role: RoleUser, Parts: []Part{ResultPart(ToolResult{InvocationID: "x"})}}), true},
		{"MismatchedTag", New(Turn{Role: RoleUser, Parts: []Part{{Kind: PartText, Result: &ToolResult{InvocationID: "x"}}}}), true},
		{"AnsweredInvocation", New(UserTurn("hi"), assistant(call("a"), answer("a")), UserTurn("again")), false},
		{"UnansweredInvocation", New(UserTurn("hi"), assistant(call("a")), UserTurn("again")), true},
		{"ResultWithoutInvocation", New(UserTurn("hi"), assistant(answer("zzz")), UserTurn("again")), true},
		{"ResultBeforeInvocation", New(UserTurn("hi"), assistant(answer("a"), call("a")), UserTurn("again")), true},
		{"AnsweredTwice", New(UserTurn("hi"), assistant(call("a"), answer("a"), answer("a")), UserTurn("again")), true},
		{"DuplicateInvocationID", New(UserTurn("hi"), assistant(call("a"), call("a"), answer("a")), UserTurn("again")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conv.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConversationJSONShape(t *testing.T) {
	raw := `{"messages":[{"role":"user","parts":[{"type":"text","text":"what's for dinner?"}]}]}`
	var conv Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := conv.Validate(); err != nil {
		t.Fatalf("Expected valid conversation, got %v", err)
	}
	if conv.Turns[0].Text() != "what's for dinner?" {
		t.Errorf("Unexpected text %q", conv.Turns[0].Text())
	}
}

func TestConversationTrim(t *testing.T) {
	conv := New(
		UserTurn("1"),
		Turn{Role: RoleAssistant, Parts: []Part{TextPart("a")}},
		UserTurn("2"),
		Turn{Role: RoleAssistant, Parts: []Part{TextPart("b")}},
		UserTurn("3"),
	)
	conv.Trim(4)
	if len(conv.Turns) != 3 {
		t.Fatalf("Expected 3 turns after trimming to a user boundary, got %d", len(conv.Turns))
	}
	if conv.Turns[0].Text() != "2" {
		t.Errorf("Expected first kept turn to be '2', got %q", conv.Turns[0].Text())
	}
}
