package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOpenAI serves canned chat and embedding responses and records the last
// request body for assertions.
type fakeOpenAI struct {
	chatContent string
	status      int

	lastPath string
	lastBody map[string]any
}

func (f *fakeOpenAI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.lastPath = r.URL.Path
		f.lastBody = map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)

		if f.status != 0 {
			w.WriteHeader(f.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == "/embeddings":
			fmt.Fprint(w, `{"data":[{"index":0,"embedding":[0.1,0.2,0.3]}]}`)
		default:
			resp := map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"role": "assistant", "content": f.chatContent}},
				},
			}
			_ = json.NewEncoder(w).Encode(resp)
		}
	})
}

func newTestClient(t *testing.T, fake *fakeOpenAI) *Client {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)
	return NewClient("test-key", WithBaseURL(server.URL))
}

func TestGenerate_BuildsGroundedPrompt(t *testing.T) {
	fake := &fakeOpenAI{chatContent: "We open at nine."}
	client := newTestClient(t, fake)

	out, err := client.Generate(context.Background(), "gpt-4o", "when do you open", []string{"hours: 9-5", "closed sundays"})
	require.NoError(t, err)
	assert.Equal(t, "We open at nine.", out)
	assert.Equal(t, "gpt-4o", fake.lastBody["model"])

	messages := fake.lastBody["messages"].([]any)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].(string)
	assert.Contains(t, content, "hours: 9-5")
	assert.Contains(t, content, "when do you open")
}

func TestGenerate_UpstreamFailure(t *testing.T) {
	client := newTestClient(t, &fakeOpenAI{status: http.StatusInternalServerError})
	_, err := client.Generate(context.Background(), "gpt-4o", "hi", nil)
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	fake := &fakeOpenAI{chatContent: "Customer asked about hours."}
	client := newTestClient(t, fake)

	out, err := client.Summarize(context.Background(), "customer: hi\nai: hello")
	require.NoError(t, err)
	assert.Equal(t, "Customer asked about hours.", out)

	messages := fake.lastBody["messages"].([]any)
	content := messages[0].(map[string]any)["content"].(string)
	assert.Contains(t, content, "customer: hi")
}

func TestExtractActionPoints(t *testing.T) {
	fake := &fakeOpenAI{chatContent: `[{"type":"sms","details":{"to":"+15551234","body":"text the quote"}},{"type":"email","details":{"to":"a@b.c","body":"send invoice"}}]`}
	client := newTestClient(t, fake)

	points, err := client.ExtractActionPoints(context.Background(), "summary text")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "sms", points[0].Type)
	assert.Equal(t, "text the quote", points[0].Details["body"])
	assert.Equal(t, "a@b.c", points[1].Details["to"])
}

func TestExtractActionPoints_UnparseableDegradesToEmpty(t *testing.T) {
	client := newTestClient(t, &fakeOpenAI{chatContent: "I could not find any action points."})

	points, err := client.ExtractActionPoints(context.Background(), "summary text")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestIsSensitive(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"affirmative", "Yes, this requires escalation.", true},
		{"sensitive keyword", "This contains sensitive material.", true},
		{"negative", "No, routine request.", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, &fakeOpenAI{chatContent: tt.content})
			got, err := client.IsSensitive(context.Background(), "some text")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsComplex(t *testing.T) {
	client := newTestClient(t, &fakeOpenAI{chatContent: "yes"})
	got, err := client.IsComplex(context.Background(), "a tangled request")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEmbed(t *testing.T) {
	fake := &fakeOpenAI{}
	client := newTestClient(t, fake)

	vec, err := client.Embed(context.Background(), "when do you open")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "/embeddings", fake.lastPath)
	assert.Equal(t, embeddingModel, fake.lastBody["model"])
}
