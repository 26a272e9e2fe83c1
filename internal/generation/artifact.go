package generation

import (
	"context"
	"fmt"

	"github.com/kazz187/storyguild/internal/agent"
	"github.com/kazz187/storyguild/internal/task"
	"github.com/kazz187/storyguild/pkg/storage"
)

var extByMIME = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

func extension(mimeType string) string {
	if ext, ok := extByMIME[mimeType]; ok {
		return ext
	}
	return ".bin"
}

// saveArtifact writes an image under the job's artifact path and returns
// the result pointing at it.
func saveArtifact(ctx context.Context, store storage.Storage, job agent.Job, data []byte, mimeType string) (task.Result, error) {
	if job.ArtifactPath == "" {
		return task.Result{}, ErrNoArtifactPath
	}
	p := job.ArtifactPath + extension(mimeType)
	if err := store.Write(ctx, p, data); err != nil {
		return task.Result{}, fmt.Errorf("failed to save artifact: %w", err)
	}
	return task.Result{ArtifactRef: store.Ref(p), MIMEType: mimeType}, nil
}
