package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"career-agent-go/internal/types"
)

func TestGeneratorBuildsMessages(t *testing.T) {
	mock := NewMockChatModel("  Learn SQL first.  ", nil)
	g, err := NewGenerator(mock)
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), "What next?", []string{"SQL Basics", "Statistics 101"})
	require.NoError(t, err)
	assert.Equal(t, "Learn SQL first.", out)

	require.Equal(t, 1, mock.Calls())
	msgs := mock.ReceivedMessages()[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[1].Content, "[1] SQL Basics")
	assert.Contains(t, msgs[1].Content, "[2] Statistics 101")
	assert.Contains(t, msgs[1].Content, "What next?")
}

func TestGeneratorErrors(t *testing.T) {
	_, err := NewGenerator(nil)
	assert.Error(t, err)

	g, err := NewGenerator(NewMockChatModel("", errors.New("quota exceeded")))
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "x", nil)
	assert.ErrorContains(t, err, "quota exceeded")

	g, err = NewGenerator(NewMockChatModel("   ", nil))
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "x", nil)
	assert.Error(t, err, "空响应应视为失败")
}

func TestMockChatModelSequentialAndDelay(t *testing.T) {
	m := NewMockChatModelSequential([]MockResponse{
		{Content: "first"},
		{Content: "slow", Delay: time.Second},
	})
	msg, err := m.Generate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "first", msg.Content)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Generate(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuildAdvicePrompt(t *testing.T) {
	prompt, docs := BuildAdvicePrompt(AdviceRequest{
		TargetRole: "data analyst",
		Gaps:       []types.GapEntry{{TaxonomyID: "sql", Name: "SQL", TargetWeight: 0.5}},
		Recommendations: []types.Recommendation{
			{ItemID: "c1", Kind: "course", Title: "SQL Basics", Score: 0.8, Rationale: []types.Contribution{{Feature: "gap:sql", Value: 0.5}, {Feature: "relevance", Value: 0.3}}},
		},
	})
	assert.Contains(t, prompt, "data analyst")
	assert.Contains(t, prompt, "SQL (weight 0.50)")
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0], "gap:sql=0.500")

	prompt, docs = BuildAdvicePrompt(AdviceRequest{})
	assert.Contains(t, prompt, "none")
	assert.Empty(t, docs)
}

func TestBuildChatPrompt(t *testing.T) {
	long := strings.Repeat("x", 400)
	prompt, docs := BuildChatPrompt(ChatRequest{
		Question: "  How do I move into data analysis?  ",
		Skills:   []string{"Python", "Docker"},
		Sources: []types.RetrievalResult{
			{Item: &types.CorpusItem{ID: "c1", Kind: types.CorpusKindCourse, Title: "SQL Basics", TaxonomyTags: []string{"sql"}, Text: long}},
			{Item: nil},
			{Item: &types.CorpusItem{ID: "j1", Kind: types.CorpusKindJob}},
		},
		MaxContext: 2,
	})
	assert.Contains(t, prompt, "Python, Docker")
	assert.Contains(t, prompt, "Question: How do I move into data analysis?\n")
	require.Len(t, docs, 1, "空条目跳过，超出上限的条目截断")
	assert.True(t, strings.HasPrefix(docs[0], "SQL Basics (course; skills: sql): "))
	assert.True(t, strings.HasSuffix(docs[0], "..."), "正文超长时截断")

	prompt, docs = BuildChatPrompt(ChatRequest{Question: "q", Sources: []types.RetrievalResult{{Item: &types.CorpusItem{ID: "j1", Kind: types.CorpusKindJob}}}})
	assert.Contains(t, prompt, "skills: none")
	assert.Equal(t, []string{"j1 (job; skills: none)"}, docs)
}

func TestQwenChatModelAgainstFakeServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, "qwen-plus", req.Model)
		assert.Len(t, req.Messages, 2)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}],"usage":{"total_tokens":5}}`))
	}))
	defer srv.Close()

	q, err := NewQwenChatModel("test-key", "", srv.URL, WithQwenHTTPClient(srv.Client()))
	require.NoError(t, err)
	msg, err := q.Generate(context.Background(), []*schema.Message{schema.SystemMessage("s"), schema.UserMessage("u")})
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Content)

	_, err = NewQwenChatModel(" ", "", "")
	assert.Error(t, err)
}

// TestQwenChatModelLive 需要 ALIYUN_API_KEY
func TestQwenChatModelLive(t *testing.T) {
	apiKey := os.Getenv("ALIYUN_API_KEY")
	if apiKey == "" {
		t.Skip("跳过测试：未设置 ALIYUN_API_KEY 环境变量")
	}
	q, err := NewQwenChatModel(apiKey, "", "")
	require.NoError(t, err)
	g, err := NewGenerator(q)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	out, err := g.Generate(ctx, "Suggest one next step for a data analyst missing SQL.", []string{"SQL Basics (course)"})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
