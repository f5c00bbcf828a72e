package tutor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathforge/pkg/models"
)

type stubRetriever struct {
	matches []models.FragmentMatch
	err     error
}

func (s *stubRetriever) Query(_ context.Context, _, _ string, _ int) ([]models.FragmentMatch, error) {
	return s.matches, s.err
}

type stubChat struct {
	response string
	err      error
	prompts  []string
}

func (s *stubChat) Generate(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.response, s.err
}

func jwtMatch() models.FragmentMatch {
	return models.FragmentMatch{
		Fragment: models.CodeFragment{
			ID:           "frag-1",
			RepositoryID: "repo-1",
			FilePath:     "auth/jwt.ts",
			StartLine:    1,
			EndLine:      40,
			Text:         "export function verifyToken(token: string) { ... }",
		},
		Similarity: 0.82,
	}
}

func answerJSON(cited string) string {
	return fmt.Sprintf(`{"answer": "Tokens are verified in verifyToken.", "confidence": 0.9, "cited_files": [%s]}`, cited)
}

func TestAskGroundsAnswerInRetrievedFragments(t *testing.T) {
	chat := &stubChat{response: answerJSON(`{"path": "auth/jwt.ts", "start_line": 1, "end_line": 40}`)}
	svc := NewService(&stubRetriever{matches: []models.FragmentMatch{jwtMatch()}},
		chat, NewMemoryConversationStore(), DefaultOptions())

	resp, err := svc.Ask(context.Background(), "How are tokens verified?", "repo-1", "")
	require.NoError(t, err)

	assert.Equal(t, "Tokens are verified in verifyToken.", resp.Answer)
	require.Len(t, resp.References, 1)
	assert.Equal(t, "auth/jwt.ts", resp.References[0].FilePath)
	assert.False(t, resp.LowConfidence)
	assert.NotEmpty(t, resp.ConversationID)

	require.Len(t, chat.prompts, 1)
	assert.Contains(t, chat.prompts[0], "auth/jwt.ts lines 1-40")
	assert.Contains(t, chat.prompts[0], "How are tokens verified?")
}

func TestAskNeverFabricatesReferences(t *testing.T) {
	// model cites a file that was never retrieved
	chat := &stubChat{response: answerJSON(
		`{"path": "auth/jwt.ts", "start_line": 1, "end_line": 40},
		 {"path": "made/up.ts", "start_line": 1, "end_line": 10}`)}
	svc := NewService(&stubRetriever{matches: []models.FragmentMatch{jwtMatch()}},
		chat, NewMemoryConversationStore(), DefaultOptions())

	resp, err := svc.Ask(context.Background(), "Where is auth?", "repo-1", "")
	require.NoError(t, err)
	require.Len(t, resp.References, 1)
	assert.Equal(t, "auth/jwt.ts", resp.References[0].FilePath)
}

func TestAskClampsOutOfRangeCitations(t *testing.T) {
	chat := &stubChat{response: answerJSON(`{"path": "auth/jwt.ts", "start_line": 900, "end_line": 950}`)}
	svc := NewService(&stubRetriever{matches: []models.FragmentMatch{jwtMatch()}},
		chat, NewMemoryConversationStore(), DefaultOptions())

	resp, err := svc.Ask(context.Background(), "Where is auth?", "repo-1", "")
	require.NoError(t, err)
	require.Len(t, resp.References, 1)
	assert.Equal(t, 1, resp.References[0].StartLine)
	assert.Equal(t, 40, resp.References[0].EndLine)
}

func TestAskFlagsLowConfidenceButStillAnswers(t *testing.T) {
	weak := jwtMatch()
	weak.Similarity = 0.1
	chat := &stubChat{response: answerJSON("")}
	svc := NewService(&stubRetriever{matches: []models.FragmentMatch{weak}},
		chat, NewMemoryConversationStore(), DefaultOptions())

	resp, err := svc.Ask(context.Background(), "What does the billing module do?", "repo-1", "")
	require.NoError(t, err)
	assert.True(t, resp.LowConfidence)
	assert.NotEmpty(t, resp.Answer)
}

func TestAskBoundsConversationWindow(t *testing.T) {
	chat := &stubChat{response: answerJSON("")}
	opts := DefaultOptions()
	opts.ConversationWindow = 3
	store := NewMemoryConversationStore()
	svc := NewService(&stubRetriever{matches: []models.FragmentMatch{jwtMatch()}}, chat, store, opts)

	for i := 0; i < 5; i++ {
		_, err := svc.Ask(context.Background(), fmt.Sprintf("question %d", i), "repo-1", "conv-1")
		require.NoError(t, err)
	}

	conv, ok, err := store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, conv.Exchanges, 3)
	assert.Equal(t, "question 2", conv.Exchanges[0].Question)
	assert.Equal(t, "question 4", conv.Exchanges[2].Question)
}

func TestAskRejectsCrossRepositoryConversation(t *testing.T) {
	store := NewMemoryConversationStore()
	require.NoError(t, store.Put(context.Background(), models.Conversation{
		ID: "conv-1", RepositoryID: "repo-other",
	}))
	svc := NewService(&stubRetriever{}, &stubChat{response: answerJSON("")}, store, DefaultOptions())

	_, err := svc.Ask(context.Background(), "hi", "repo-1", "conv-1")
	assert.Error(t, err)
}

func TestAskRepairsSlightlyBrokenModelJSON(t *testing.T) {
	// trailing comma plus markdown fence
	chat := &stubChat{response: "```json\n{\"answer\": \"See verifyToken.\", \"confidence\": 0.7, \"cited_files\": [],}\n```"}
	svc := NewService(&stubRetriever{matches: []models.FragmentMatch{jwtMatch()}},
		chat, NewMemoryConversationStore(), DefaultOptions())

	resp, err := svc.Ask(context.Background(), "Where is auth?", "repo-1", "")
	require.NoError(t, err)
	assert.Equal(t, "See verifyToken.", resp.Answer)
}

func TestParseAnswerRejectsNonJSON(t *testing.T) {
	_, err := parseAnswer("I cannot answer that.")
	assert.Error(t, err)
}

func TestParseAnswerClampsConfidence(t *testing.T) {
	parsed, err := parseAnswer(`{"answer": "x", "confidence": 3.2}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, parsed.Confidence)
}
