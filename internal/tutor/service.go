// Package tutor answers questions about an indexed repository, grounding
// every answer in retrieved code fragments.
package tutor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pathforge/internal/ai"
	"github.com/pathforge/pkg/models"
)

// Retriever is the read-only slice of the retrieval engine the tutor needs.
type Retriever interface {
	Query(ctx context.Context, repositoryID, text string, k int) ([]models.FragmentMatch, error)
}

// Options tune the tutor pipeline.
type Options struct {
	TopK               int     // fragments retrieved per question
	ConversationWindow int     // exchanges kept per conversation
	ConfidenceFloor    float64 // top similarity below this flags low confidence
}

func DefaultOptions() Options {
	return Options{TopK: 5, ConversationWindow: 10, ConfidenceFloor: 0.35}
}

// Service runs the tutoring pipeline: retrieve, prompt, generate, ground.
type Service struct {
	retriever Retriever
	chat      ai.ChatModel
	convs     ConversationStore
	opts      Options
}

func NewService(retriever Retriever, chat ai.ChatModel, convs ConversationStore, opts Options) *Service {
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.ConversationWindow <= 0 {
		opts.ConversationWindow = DefaultOptions().ConversationWindow
	}
	return &Service{retriever: retriever, chat: chat, convs: convs, opts: opts}
}

// Ask answers one question about the repository. The only side effect is the
// exchange appended to the conversation; retrieval and generation are
// read-only. References are filtered against what was actually retrieved, so
// the tutor never cites a file it was not shown.
func (s *Service) Ask(ctx context.Context, question, repositoryID, conversationID string) (*models.TutorResponse, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is empty")
	}
	if repositoryID == "" {
		return nil, fmt.Errorf("repository id is required")
	}

	conv, err := s.loadConversation(ctx, repositoryID, conversationID)
	if err != nil {
		return nil, err
	}

	matches, err := s.retriever.Query(ctx, repositoryID, question, s.opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieve context for question: %w", err)
	}

	prompt := s.buildPrompt(question, matches, conv.Exchanges)
	raw, err := s.chat.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	parsed, err := parseAnswer(raw)
	if err != nil {
		return nil, fmt.Errorf("parse answer: %w", err)
	}

	topSimilarity := 0.0
	if len(matches) > 0 {
		topSimilarity = matches[0].Similarity
	}

	resp := &models.TutorResponse{
		Answer:         parsed.Answer,
		References:     groundCitations(parsed.CitedFiles, matches),
		Confidence:     parsed.Confidence,
		LowConfidence:  topSimilarity < s.opts.ConfidenceFloor,
		ConversationID: conv.ID,
	}

	fragmentIDs := make([]string, 0, len(matches))
	for _, m := range matches {
		fragmentIDs = append(fragmentIDs, m.Fragment.ID)
	}
	conv.Exchanges = append(conv.Exchanges, models.Exchange{
		Question:    question,
		Answer:      resp.Answer,
		FragmentIDs: fragmentIDs,
		AskedAt:     time.Now().UTC(),
	})
	if excess := len(conv.Exchanges) - s.opts.ConversationWindow; excess > 0 {
		conv.Exchanges = conv.Exchanges[excess:]
	}
	if err := s.convs.Put(ctx, conv); err != nil {
		return nil, fmt.Errorf("store conversation: %w", err)
	}

	log.Debug().Str("repository", repositoryID).
		Str("conversation", conv.ID).
		Int("fragments", len(matches)).
		Bool("low_confidence", resp.LowConfidence).
		Msg("tutor question answered")

	return resp, nil
}

func (s *Service) loadConversation(ctx context.Context, repositoryID, conversationID string) (models.Conversation, error) {
	if conversationID == "" {
		return models.Conversation{ID: uuid.New().String(), RepositoryID: repositoryID}, nil
	}
	conv, ok, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	if !ok {
		return models.Conversation{ID: conversationID, RepositoryID: repositoryID}, nil
	}
	if conv.RepositoryID != repositoryID {
		return models.Conversation{}, fmt.Errorf("conversation %s belongs to repository %s",
			conversationID, conv.RepositoryID)
	}
	return conv, nil
}

func (s *Service) buildPrompt(question string, matches []models.FragmentMatch, history []models.Exchange) string {
	var b strings.Builder
	b.WriteString("You are a codebase tutor. Answer the learner's question using only the code fragments below.\n")
	b.WriteString("Respond with a single JSON object: {\"answer\": string, \"confidence\": number 0-1, ")
	b.WriteString("\"cited_files\": [{\"path\": string, \"start_line\": int, \"end_line\": int}]}.\n")
	b.WriteString("Cite only files that appear in the fragments. If the fragments do not cover the question, say so and lower your confidence.\n\n")

	if len(matches) == 0 {
		b.WriteString("No code fragments were retrieved for this question.\n\n")
	}
	for i, m := range matches {
		f := m.Fragment
		fmt.Fprintf(&b, "Fragment %d: %s lines %d-%d (similarity %.2f)\n%s\n\n",
			i+1, f.FilePath, f.StartLine, f.EndLine, m.Similarity, f.Text)
	}

	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, ex := range history {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", ex.Question, ex.Answer)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s\n", question)
	return b.String()
}

// groundCitations keeps only citations whose path was actually retrieved, and
// clamps cited line ranges to the retrieved fragment spans.
func groundCitations(cited []rawCitation, matches []models.FragmentMatch) []models.CitedFile {
	spans := make(map[string][]models.CodeFragment)
	for _, m := range matches {
		spans[m.Fragment.FilePath] = append(spans[m.Fragment.FilePath], m.Fragment)
	}

	var out []models.CitedFile
	seen := make(map[models.CitedFile]bool)
	for _, c := range cited {
		fragments, ok := spans[c.Path]
		if !ok {
			continue
		}
		ref := models.CitedFile{FilePath: c.Path, StartLine: c.StartLine, EndLine: c.EndLine}
		if !withinAny(c.StartLine, c.EndLine, fragments) {
			ref.StartLine = fragments[0].StartLine
			ref.EndLine = fragments[0].EndLine
		}
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}

func withinAny(start, end int, fragments []models.CodeFragment) bool {
	if start <= 0 || end < start {
		return false
	}
	for _, f := range fragments {
		if start >= f.StartLine && end <= f.EndLine {
			return true
		}
	}
	return false
}
