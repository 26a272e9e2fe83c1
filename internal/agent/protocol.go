package agent

import (
	"encoding/json"

	"github.com/kazz187/storyguild/internal/task"
)

// Config is sent to every agent once, right after it is created.
type Config struct {
	TextModel         string  `json:"text_model,omitempty" yaml:"text_model,omitempty"`
	ImageModel        string  `json:"image_model,omitempty" yaml:"image_model,omitempty"`
	Temperature       float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	SystemInstruction string  `json:"system_instruction,omitempty" yaml:"system_instruction,omitempty"`
}

// Job is everything an agent needs to run one task.
type Job struct {
	TaskID      string
	Entity      task.EntityRef
	Type        task.Type
	Prompt      string
	Step        string
	StepContext json.RawMessage
	// ArtifactPath is where image-class jobs persist their output, without
	// a file extension.
	ArtifactPath string
}

// Command is a scheduler to agent message.
type Command interface {
	command()
}

type Init struct {
	Config Config
}

type Execute struct {
	Job Job
}

type Abort struct {
	TaskID string
}

func (Init) command()    {}
func (Execute) command() {}
func (Abort) command()   {}

type MessageKind int

const (
	KindReady MessageKind = iota + 1
	KindStarted
	KindComplete
	KindError
	// KindFailed reports that the agent itself is broken and will not
	// process further commands.
	KindFailed
)

func (k MessageKind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindStarted:
		return "started"
	case KindComplete:
		return "complete"
	case KindError:
		return "error"
	case KindFailed:
		return "failed"
	}
	return "unknown"
}

// Message is an agent to scheduler message. Generation identifies the pool
// the agent belongs to so the scheduler can drop messages from torn-down
// pools.
type Message struct {
	AgentID    int
	Generation uint64
	Kind       MessageKind
	TaskID     string
	Result     task.Result
	Err        string
}
