package processor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"career-agent-go/internal/agent"
	"career-agent-go/internal/types"
)

func TestAskWithProfile(t *testing.T) {
	f := newFixture(t, time.Second, true)
	mock := agent.NewMockChatModel("Start with SQL Basics, then apply for analyst roles.", nil)
	gen, err := agent.NewGenerator(mock)
	require.NoError(t, err)
	p, err := NewPipeline(f.comps, []ComponentOpt{WithcompGenerator(gen)}, nil)
	require.NoError(t, err)

	res, err := p.Ask(context.Background(), Request{RequestID: "chat-1", Document: []byte(pythonResume), K: 3},
		"  How do I become a data analyst?  ")
	require.NoError(t, err)
	assert.Equal(t, "chat-1", res.RequestID)
	assert.False(t, res.Degraded, "reasons: %v", res.DegradedReasons)
	assert.Equal(t, "Start with SQL Basics, then apply for analyst roles.", res.Answer)
	assert.NotEmpty(t, res.ProfileID)
	assert.NotEmpty(t, res.GenerationID)
	require.Len(t, res.Sources, 3)

	calls := f.embedder.calls()
	require.NotEmpty(t, calls)
	query := calls[len(calls)-1][0]
	assert.True(t, strings.HasPrefix(query, "How do I become a data analyst?\n"), "检索文本以问题开头")
	assert.Contains(t, query, "Skills: Docker, Python", "检索文本包含画像技能")

	msgs := mock.ReceivedMessages()
	require.Len(t, msgs, 1)
	user := msgs[0][len(msgs[0])-1].Content
	assert.Contains(t, user, "The candidate's skills: Docker, Python.")
	assert.Contains(t, user, "Question: How do I become a data analyst?")
	assert.Contains(t, user, res.Sources[0].Item.DisplayTitle(), "检索条目作为参考资料")
}

func TestAskDegradesOnGenerateTimeout(t *testing.T) {
	f := newFixture(t, time.Second, true)
	gen, err := agent.NewGenerator(agent.NewMockChatModelSequential([]agent.MockResponse{{Content: "late", Delay: time.Second}}))
	require.NoError(t, err)
	p, err := NewPipeline(f.comps, []ComponentOpt{WithcompGenerator(gen)}, []SettingOpt{WithsetTimeouts(time.Second, 20*time.Millisecond)})
	require.NoError(t, err)

	res, err := p.Ask(context.Background(), Request{}, "Which SQL course should I take?")
	require.NoError(t, err, "生成超时只降级不失败")
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Answer)
	assert.Contains(t, strings.Join(res.DegradedReasons, "; "), "answer: generate capability timed out")
	assert.NotEmpty(t, res.Sources, "检索条目照常返回")
	assert.Empty(t, res.ProfileID, "未上传简历时没有画像")
}

func TestAskFallsBackToLexicalContext(t *testing.T) {
	f := newFixture(t, time.Second, true)
	f.embedder.delay = 200 * time.Millisecond
	p, err := NewPipeline(f.comps, nil, []SettingOpt{WithsetTimeouts(20*time.Millisecond, time.Second)})
	require.NoError(t, err)

	res, err := p.Ask(context.Background(), Request{K: 5}, "Is SQL worth learning?")
	require.NoError(t, err)
	joined := strings.Join(res.DegradedReasons, "; ")
	assert.Contains(t, joined, "context retrieval: embed capability timed out")
	assert.Contains(t, joined, "answer: no generation capability configured")
	require.NotEmpty(t, res.Sources, "问题中的技能名参与词汇检索")
	for _, r := range res.Sources {
		assert.Contains(t, r.Item.TaxonomyTags, "sql")
		assert.Zero(t, r.SemanticScore)
	}

	res, err = p.Ask(context.Background(), Request{K: 5}, "What should I do next?")
	require.NoError(t, err)
	assert.Empty(t, res.Sources, "没有向量也没有技能时不检索")
}

func TestAskErrors(t *testing.T) {
	f := newFixture(t, time.Second, true)
	p, err := NewPipeline(f.comps, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.Ask(ctx, Request{}, "   ")
	assert.ErrorIs(t, err, types.ErrInvalidQuery)

	_, err = p.Ask(ctx, Request{Document: []byte{0x00, 0x01, 0xff}}, "What next?")
	assert.ErrorIs(t, err, types.ErrUnreadableDocument)

	empty := newFixture(t, time.Second, false)
	p, err = NewPipeline(empty.comps, nil, nil)
	require.NoError(t, err)
	_, err = p.Ask(ctx, Request{}, "What next?")
	assert.ErrorIs(t, err, types.ErrIndexUnavailable)
}

func TestMergeSorted(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c", "d"}, mergeSorted([]string{"a", "c"}, []string{"b", "c", "d"}))
	assert.Equal(t, []string{"x"}, mergeSorted(nil, []string{"x"}))
	assert.Empty(t, mergeSorted(nil, nil))
}
