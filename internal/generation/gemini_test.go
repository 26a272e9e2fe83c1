package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func TestResponseText(t *testing.T) {
	text := func(parts ...*genai.Part) *genai.Candidate {
		return &genai.Candidate{Content: &genai.Content{Parts: parts}}
	}
	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		want    string
		wantErr error
	}{
		{
			name: "joins text parts and skips thoughts",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
				text(&genai.Part{Text: "thinking", Thought: true}, &genai.Part{Text: "Aria "}, nil, &genai.Part{Text: "Vell\n"}),
			}},
			want: "Aria Vell",
		},
		{
			name: "safety block without content",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
				{FinishReason: genai.FinishReasonSafety},
			}},
			wantErr: ErrContentBlocked,
		},
		{
			name: "safety block with partial content",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
				{FinishReason: genai.FinishReasonSafety, Content: &genai.Content{Parts: []*genai.Part{{Text: "half"}}}},
			}},
			wantErr: ErrContentBlocked,
		},
		{
			name: "blocked prompt",
			resp: &genai.GenerateContentResponse{
				PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
			},
			wantErr: ErrContentBlocked,
		},
		{
			name:    "no candidates",
			resp:    &genai.GenerateContentResponse{},
			wantErr: ErrEmptyResponse,
		},
		{
			name: "no content",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
				{FinishReason: genai.FinishReasonStop},
			}},
			wantErr: ErrEmptyResponse,
		},
		{
			name: "only whitespace",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
				text(&genai.Part{Text: "  \n"}),
			}},
			wantErr: ErrEmptyResponse,
		},
		{
			name:    "nil response",
			wantErr: ErrEmptyResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := responseText(tt.resp)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
