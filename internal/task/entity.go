package task

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusComplete, StatusError:
		return true
	}
	return false
}

// CanTransition reports whether a task may move from one status to another.
// Removal (cancel, clear) is not a transition and is always allowed.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusComplete || to == StatusError
	case StatusError:
		return to == StatusQueued
	}
	return false
}

// Type is the kind of content a task generates. The set is open; anything
// that is not image-class is treated as text-class.
type Type string

const (
	TypeName        Type = "name"
	TypeDescription Type = "description"
	TypeBackstory   Type = "backstory"
	TypeChapter     Type = "chapter"
	TypeImage       Type = "image"
)

type Class int

const (
	ClassText Class = iota
	ClassImage
)

func (c Class) String() string {
	if c == ClassImage {
		return "image"
	}
	return "text"
}

// Weight is the relative cost used when balancing work across agents.
func (c Class) Weight() int {
	if c == ClassImage {
		return 10
	}
	return 1
}

// Class returns ClassImage for "image" and "image/<kind>" types.
func (t Type) Class() Class {
	if t == TypeImage || strings.HasPrefix(string(t), string(TypeImage)+"/") {
		return ClassImage
	}
	return ClassText
}

func (t Type) Weight() int {
	return t.Class().Weight()
}

// EntityRef is the denormalized identity of the narrative entity a task
// generates content for.
type EntityRef struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Kind    string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Culture string `json:"culture,omitempty" yaml:"culture,omitempty"`
}

// Request is what callers submit. The scheduler turns it into a Task.
type Request struct {
	Entity      EntityRef       `json:"entity" yaml:"entity"`
	Type        Type            `json:"type" yaml:"type"`
	Prompt      string          `json:"prompt" yaml:"prompt"`
	Step        string          `json:"step,omitempty" yaml:"step,omitempty"`
	StepContext json.RawMessage `json:"step_context,omitempty" yaml:"-"`
}

// UnmarshalYAML decodes step_context as a YAML value and keeps it as JSON.
func (r *Request) UnmarshalYAML(node *yaml.Node) error {
	type plain Request
	var raw struct {
		plain       `yaml:",inline"`
		StepContext any `yaml:"step_context"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*r = Request(raw.plain)
	if raw.StepContext == nil {
		return nil
	}
	data, err := json.Marshal(raw.StepContext)
	if err != nil {
		return fmt.Errorf("step_context: %w", err)
	}
	r.StepContext = data
	return nil
}

type Result struct {
	Text        string `json:"text,omitempty"`
	ArtifactRef string `json:"artifact_ref,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
}

type Task struct {
	ID          string          `json:"id"`
	Entity      EntityRef       `json:"entity"`
	Type        Type            `json:"type"`
	Prompt      string          `json:"prompt"`
	Step        string          `json:"step,omitempty"`
	StepContext json.RawMessage `json:"step_context,omitempty"`
	Status      Status          `json:"status"`
	QueuedAt    time.Time       `json:"queued_at"`
	StartedAt   time.Time       `json:"started_at,omitzero"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
	Result      *Result         `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// New builds a queued task for req.
func New(req Request, now time.Time) *Task {
	return &Task{
		ID:          NewID(req.Type, req.Entity.ID),
		Entity:      req.Entity,
		Type:        req.Type,
		Prompt:      req.Prompt,
		Step:        req.Step,
		StepContext: req.StepContext,
		Status:      StatusQueued,
		QueuedAt:    now,
	}
}

// Delta is a completed task's result translated for the domain layer.
type Delta struct {
	TaskID      string          `json:"task_id"`
	Type        Type            `json:"type"`
	Step        string          `json:"step,omitempty"`
	StepContext json.RawMessage `json:"step_context,omitempty"`
	Text        string          `json:"text,omitempty"`
	ArtifactRef string          `json:"artifact_ref,omitempty"`
	MIMEType    string          `json:"mime_type,omitempty"`
}

func NewDelta(t Task, r Result) Delta {
	return Delta{
		TaskID:      t.ID,
		Type:        t.Type,
		Step:        t.Step,
		StepContext: t.StepContext,
		Text:        r.Text,
		ArtifactRef: r.ArtifactRef,
		MIMEType:    r.MIMEType,
	}
}
