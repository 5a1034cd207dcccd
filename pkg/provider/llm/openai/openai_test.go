package openai

import (
	"errors"
	"testing"

	oai "github.com/openai/openai-go"

	"github.com/hibiki-ai/hibiki/pkg/provider/llm"
	"github.com/hibiki-ai/hibiki/pkg/types"
)

// TestNew_Validation checks constructor argument validation.
func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty apiKey")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("sk-test", "gpt-4o-mini", WithBaseURL("http://localhost:8000/v1")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestConvertMessage_User checks that user role is converted correctly.
func TestConvertMessage_User(t *testing.T) {
	msg := types.Message{Role: types.RoleUser, Content: "こんにちは"}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfUser == nil {
		t.Fatal("expected OfUser to be set")
	}
}

// TestConvertMessage_Assistant checks that assistant role is converted.
func TestConvertMessage_Assistant(t *testing.T) {
	msg := types.Message{Role: types.RoleAssistant, Content: "Hi there!"}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfAssistant == nil {
		t.Fatal("expected OfAssistant to be set")
	}
}

// TestConvertMessage_UnknownRole checks that unknown roles are rejected.
func TestConvertMessage_UnknownRole(t *testing.T) {
	msg := types.Message{Role: "narrator", Content: "meanwhile"}
	if _, err := convertMessage(msg); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

// TestBuildParams checks request-to-params conversion.
func TestBuildParams(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}

	req := llm.Request{
		Prompt:       "what's the weather?",
		SystemPrompt: "Answer briefly.",
		History: []types.Message{
			{Role: types.RoleUser, Content: "hi"},
			{Role: types.RoleAssistant, Content: "hello"},
		},
		Temperature: 0.7,
		MaxTokens:   256,
	}

	params, err := p.buildParams(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// system + 2 history + prompt
	if len(params.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("expected first message to be the system prompt")
	}
	if last := params.Messages[3]; last.OfUser == nil {
		t.Error("expected last message to be the user prompt")
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0.7 {
		t.Errorf("unexpected temperature: %+v", params.Temperature)
	}
	if !params.MaxCompletionTokens.Valid() || params.MaxCompletionTokens.Value != 256 {
		t.Errorf("unexpected max tokens: %+v", params.MaxCompletionTokens)
	}
}

// TestBuildParams_EmptyPrompt checks that an empty prompt is rejected.
func TestBuildParams_EmptyPrompt(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	if _, err := p.buildParams(llm.Request{}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

// TestClassify checks error-class mapping for API failures.
func TestClassify(t *testing.T) {
	apierr := &oai.Error{StatusCode: 400, Message: "invalid model"}
	got := classify(apierr)

	var ue *UpstreamError
	if !errors.As(got, &ue) {
		t.Fatalf("expected *UpstreamError for 400, got %T", got)
	}
	if ue.ErrorClass() != "upstream" {
		t.Errorf("expected upstream class, got %q", ue.ErrorClass())
	}

	srverr := &oai.Error{StatusCode: 503, Message: "overloaded"}
	if errors.As(classify(srverr), &ue) {
		t.Error("5xx must not be classified as upstream")
	}

	plain := errors.New("connection reset")
	if errors.As(classify(plain), &ue) {
		t.Error("non-API error must not be classified as upstream")
	}
}
