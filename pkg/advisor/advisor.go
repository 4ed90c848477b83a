// Package advisor asks a chat-completion model for a short root-cause hint
// about a failing pod.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	"github.com/raycarroll/shipctl/pkg/logger"
)

const (
	DefaultModel = "gpt-4o-mini"
	logTailLines = 50
	maxPromptLen = 12000
)

const systemPrompt = "You are a Kubernetes operations assistant. Given the events and recent logs " +
	"of a failing pod, name the most likely root cause and one concrete fix in at most five sentences."

var log = logger.WithPrefix("[advisor] ")

// Advisor returns a free-text root-cause hint for a pod.
type Advisor interface {
	Advise(ctx context.Context, namespace, pod string) (string, error)
}

// Evidence reads the diagnostics of a pod.
type Evidence interface {
	PodEvents(ctx context.Context, namespace, pod string) (string, error)
	PodLogs(ctx context.Context, namespace, pod string, tail int64) (string, error)
}

// ChatCompleter is the subset of the OpenAI client the advisor needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config configures the OpenAI backed advisor.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // optional, for OpenAI compatible endpoints
}

// OpenAIAdvisor implements Advisor with a chat-completion model.
type OpenAIAdvisor struct {
	chat     ChatCompleter
	evidence Evidence
	model    string
}

// New creates an advisor backed by the OpenAI API.
func New(cfg Config, evidence Evidence) (*OpenAIAdvisor, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("advisor: OPENAI_API_KEY is not set")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return NewWithClient(openai.NewClientWithConfig(clientCfg), evidence, cfg.Model), nil
}

// NewWithClient creates an advisor around an existing chat client.
func NewWithClient(chat ChatCompleter, evidence Evidence, model string) *OpenAIAdvisor {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIAdvisor{chat: chat, evidence: evidence, model: model}
}

// Advise implements Advisor.
func (a *OpenAIAdvisor) Advise(ctx context.Context, namespace, pod string) (string, error) {
	events, err := a.evidence.PodEvents(ctx, namespace, pod)
	if err != nil {
		return "", fmt.Errorf("reading events of %s/%s: %w", namespace, pod, err)
	}
	logs, err := a.evidence.PodLogs(ctx, namespace, pod, logTailLines)
	if err != nil {
		// Logs are often unavailable for pods that never started.
		log.Debug("no logs for %s/%s: %v", namespace, pod, err)
		logs = ""
	}

	resp, err := a.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(namespace, pod, events, logs)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("OpenAI returned no choices")
	}
	log.Debug("finish reason %s", resp.Choices[0].FinishReason)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func buildPrompt(namespace, pod, events, logs string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pod %s in namespace %s is failing its rollout.\n\n", pod, namespace)
	b.WriteString("Events:\n")
	if events == "" {
		events = "(none)"
	}
	b.WriteString(events)
	b.WriteString("\n\nRecent logs:\n")
	if logs == "" {
		logs = "(unavailable)"
	}
	b.WriteString(logs)

	prompt := b.String()
	if len(prompt) > maxPromptLen {
		cut := len(prompt) - maxPromptLen
		for cut < len(prompt) && !utf8.RuneStart(prompt[cut]) {
			cut++
		}
		prompt = prompt[cut:]
	}
	return prompt
}
