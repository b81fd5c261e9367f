// Package events defines the hook event envelope POSTed by agents and the
// table of recognized event types.
package events

import (
	"strings"

	"github.com/discode/discode/internal/common/errors"
)

// DefaultAgentType is assumed when the envelope omits agentType.
const DefaultAgentType = "opencode"

// Hook event types. Unknown types are not an error; they are logged and
// discarded so future adapters can add kinds without breaking older bridges.
const (
	TypeSessionStart        = "session.start"
	TypeSessionEnd          = "session.end"
	TypeSessionError        = "session.error"
	TypeSessionNotification = "session.notification"
	TypeSessionIdle         = "session.idle"
	TypeThinkingStart       = "thinking.start"
	TypeThinkingStop        = "thinking.stop"
	TypeToolActivity        = "tool.activity"
	TypePromptSubmit        = "prompt.submit"
	TypePermissionRequest   = "permission.request"
	TypeToolFailure         = "tool.failure"
	TypeTaskCompleted       = "task.completed"
	TypeTeammateIdle        = "teammate.idle"
)

// Recognized is the explicit table of event types the pipeline dispatches.
var Recognized = map[string]bool{
	TypeSessionStart:        true,
	TypeSessionEnd:          true,
	TypeSessionError:        true,
	TypeSessionNotification: true,
	TypeSessionIdle:         true,
	TypeThinkingStart:       true,
	TypeThinkingStop:        true,
	TypeToolActivity:        true,
	TypePromptSubmit:        true,
	TypePermissionRequest:   true,
	TypeToolFailure:         true,
	TypeTaskCompleted:       true,
	TypeTeammateIdle:        true,
}

// Usage carries token accounting attached to session.idle events.
type Usage struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	TotalCostUsd float64 `json:"totalCostUsd"`
}

// TotalTokens returns input plus output tokens.
func (u *Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// Envelope is the JSON body of a hook event POST.
// Only Type and ProjectName are mandatory; everything else is per-type.
type Envelope struct {
	Type        string `json:"type"`
	ProjectName string `json:"projectName"`
	AgentType   string `json:"agentType,omitempty"`
	InstanceID  string `json:"instanceId,omitempty"`

	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"` // fallback for Text

	// session.start
	Source string `json:"source,omitempty"`
	Model  string `json:"model,omitempty"`

	// session.end
	Reason string `json:"reason,omitempty"`

	// session.notification
	NotificationType string `json:"notificationType,omitempty"`
	PromptText       string `json:"promptText,omitempty"`

	// tool.activity / permission.request / tool.failure
	ToolName  string `json:"toolName,omitempty"`
	ToolInput string `json:"toolInput,omitempty"`
	Error     string `json:"error,omitempty"`

	// session.idle
	Usage            *Usage   `json:"usage,omitempty"`
	TurnText         string   `json:"turnText,omitempty"`
	IntermediateText string   `json:"intermediateText,omitempty"`
	Thinking         string   `json:"thinking,omitempty"`
	Files            []string `json:"files,omitempty"`
	PromptChoices    []string `json:"promptChoices,omitempty"`
	PlanFile         string   `json:"planFile,omitempty"`

	// task.completed / teammate.idle
	Subject  string `json:"subject,omitempty"`
	TaskID   string `json:"taskId,omitempty"`
	Teammate string `json:"teammate,omitempty"`
	Team     string `json:"team,omitempty"`
}

// BodyText returns the event's free-form text, falling back to message.
func (e *Envelope) BodyText() string {
	if e.Text != "" {
		return e.Text
	}
	return e.Message
}

// ResponseText returns the turn's final answer text, falling back to text.
func (e *Envelope) ResponseText() string {
	if e.TurnText != "" {
		return e.TurnText
	}
	return e.BodyText()
}

// EffectiveAgentType returns the agent type, defaulting when absent.
func (e *Envelope) EffectiveAgentType() string {
	if e.AgentType == "" {
		return DefaultAgentType
	}
	return e.AgentType
}

// InstanceKey returns the instance id, falling back to the agent type.
// This is the key used for all per-instance state maps.
func (e *Envelope) InstanceKey() string {
	if e.InstanceID != "" {
		return e.InstanceID
	}
	return e.EffectiveAgentType()
}

// Validate checks the envelope's mandatory fields. Event-specific fields
// stay loose on purpose; adapters vary in what they send.
func (e *Envelope) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return errors.EnvelopeInvalid("type must be a non-empty string")
	}
	if strings.TrimSpace(e.ProjectName) == "" {
		return errors.EnvelopeInvalid("projectName must be a non-empty string")
	}
	return nil
}
