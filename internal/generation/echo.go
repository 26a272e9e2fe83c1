package generation

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"time"

	"github.com/kazz187/storyguild/internal/agent"
	"github.com/kazz187/storyguild/internal/task"
	"github.com/kazz187/storyguild/pkg/storage"
)

var _ agent.Executor = (*Echo)(nil)

// Echo is an offline executor for local development. Text jobs echo their
// prompt and image jobs produce a solid-colour placeholder derived from the
// prompt.
type Echo struct {
	store storage.Storage
	delay time.Duration
}

func NewEcho(store storage.Storage, delay time.Duration) *Echo {
	return &Echo{store: store, delay: delay}
}

func (e *Echo) Shareable() bool {
	return true
}

func (e *Echo) Init(context.Context, agent.Config) error {
	return nil
}

func (e *Echo) Generate(ctx context.Context, job agent.Job) (task.Result, error) {
	if e.delay > 0 {
		t := time.NewTimer(e.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return task.Result{}, ctx.Err()
		case <-t.C:
		}
	}
	if job.Type.Class() == task.ClassImage {
		data, err := placeholder(job.Prompt)
		if err != nil {
			return task.Result{}, err
		}
		return saveArtifact(ctx, e.store, job, data, "image/png")
	}
	return task.Result{
		Text:     fmt.Sprintf("[%s] %s", job.Type, job.Prompt),
		MIMEType: "text/plain",
	}, nil
}

func placeholder(seed string) ([]byte, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	sum := h.Sum32()
	c := color.RGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := range 64 {
		for x := range 64 {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}
