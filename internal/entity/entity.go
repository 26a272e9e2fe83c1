package entity

import (
	"time"

	"github.com/kazz187/storyguild/internal/task"
)

// Entity is a narrative subject (character, place, faction...) that
// generation tasks write into.
type Entity struct {
	ID        string            `yaml:"id" json:"id"`
	Name      string            `yaml:"name" json:"name"`
	Kind      string            `yaml:"kind" json:"kind"`
	Culture   string            `yaml:"culture,omitempty" json:"culture,omitempty"`
	Fields    map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`
	Images    []Image           `yaml:"images,omitempty" json:"images,omitempty"`
	CreatedAt time.Time         `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time         `yaml:"updated_at" json:"updated_at"`
}

type Image struct {
	TaskID    string    `yaml:"task_id" json:"task_id"`
	Type      task.Type `yaml:"type" json:"type"`
	Step      string    `yaml:"step,omitempty" json:"step,omitempty"`
	Ref       string    `yaml:"ref" json:"ref"`
	MIMEType  string    `yaml:"mime_type,omitempty" json:"mime_type,omitempty"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// FieldKey is where a text result lands: the task type, qualified by the
// step for multi-step generations.
func FieldKey(t task.Type, step string) string {
	if step == "" {
		return string(t)
	}
	return string(t) + ":" + step
}

// Apply merges a generation result into e. Results carrying an artifact are
// recorded as images, everything else as a text field.
func (e *Entity) Apply(d task.Delta, now time.Time) {
	if d.ArtifactRef != "" {
		for _, img := range e.Images {
			if img.TaskID == d.TaskID {
				return
			}
		}
		e.Images = append(e.Images, Image{
			TaskID:    d.TaskID,
			Type:      d.Type,
			Step:      d.Step,
			Ref:       d.ArtifactRef,
			MIMEType:  d.MIMEType,
			CreatedAt: now,
		})
	} else {
		if e.Fields == nil {
			e.Fields = make(map[string]string)
		}
		e.Fields[FieldKey(d.Type, d.Step)] = d.Text
	}
	e.UpdatedAt = now
}

func (e *Entity) Ref() task.EntityRef {
	return task.EntityRef{ID: e.ID, Name: e.Name, Kind: e.Kind, Culture: e.Culture}
}
