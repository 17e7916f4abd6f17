// Package services – ChatService
//
// This file implements the retrieval-augmented question-answering pipeline:
// embed the question, fetch the user's nearest chunks from the vector store,
// assemble them into a context block, and ask the language model to answer
// with that context injected as a system message ahead of the conversation.
//
// Context assembly (BuildContext) and message assembly (BuildMessages) are
// separate exported steps so callers can inspect or reuse either one. The
// caller's history is never modified and the exchange is not persisted.
package services

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/observability"
)

// DefaultTopK is the number of chunks retrieved per question.
const DefaultTopK = 5

// DefaultSystemPrompt introduces the retrieved context to the model.
const DefaultSystemPrompt = "You are a helpful assistant. Answer the user's question using the context below. " +
	"If the context does not contain the answer, say that you don't know."

// ContextSeparator joins retrieved chunk texts.
const ContextSeparator = "\n\n"

// ChatService answers questions over a user's ingested documents.
type ChatService struct {
	Embedder Embedder
	Vectors  VectorStore
	LLM      LLM

	// TopK is the number of chunks to retrieve; <= 0 means DefaultTopK.
	TopK int
	// SystemPrompt precedes the retrieved context in the injected system
	// message.
	SystemPrompt string
}

// NewChatService constructs a ChatService with the default retrieval depth
// and system prompt.
func NewChatService(emb Embedder, vs VectorStore, llm LLM) *ChatService {
	return &ChatService{
		Embedder:     emb,
		Vectors:      vs,
		LLM:          llm,
		TopK:         DefaultTopK,
		SystemPrompt: DefaultSystemPrompt,
	}
}

// AskQuestion answers question for userID given the prior conversation and
// returns the model's reply verbatim.
func (s *ChatService) AskQuestion(ctx context.Context, question, userID string, history []domain.ChatMessage) (answer string, err error) {
	tr := observability.Tracer("services")
	ctx, span := tr.Start(ctx, "AskQuestion",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("history.len", len(history)),
		),
	)
	defer span.End()
	defer func() { s.observe(span, "sync", err) }()

	msgs, _, err := s.prepare(ctx, question, userID, history)
	if err != nil {
		return "", err
	}

	answer, err = s.LLM.GenerateResponse(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("generate response: %w", err)
	}
	return answer, nil
}

// AskQuestionStream runs retrieval and returns the model's streaming reply.
// Retrieval errors are returned immediately; generation errors surface
// through the sequence. The span and question metric are finished when the
// sequence is first drained, fails or is abandoned by the caller.
func (s *ChatService) AskQuestionStream(ctx context.Context, question, userID string, history []domain.ChatMessage) (iter.Seq2[string, error], error) {
	tr := observability.Tracer("services")
	ctx, span := tr.Start(ctx, "AskQuestionStream",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("history.len", len(history)),
		),
	)

	msgs, contextText, err := s.prepare(ctx, question, userID, history)
	if err != nil {
		s.observe(span, "stream", err)
		span.End()
		return nil, err
	}

	inner := s.LLM.GenerateStreamingResponse(ctx, msgs, contextText)
	var once sync.Once
	return func(yield func(string, error) bool) {
		var streamErr error
		defer once.Do(func() {
			s.observe(span, "stream", streamErr)
			span.End()
		})
		for tok, err := range inner {
			if err != nil {
				streamErr = err
				yield("", err)
				return
			}
			if !yield(tok, nil) {
				streamErr = ctx.Err()
				return
			}
		}
	}, nil
}

// Retrieve embeds question and returns the user's nearest chunks, most
// relevant first.
func (s *ChatService) Retrieve(ctx context.Context, question, userID string) ([]VectorMatch, error) {
	tr := observability.Tracer("services")
	ctx, span := tr.Start(ctx, "Retrieve",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("top_k", s.topK()),
		),
	)
	defer span.End()

	emb, err := s.Embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	matches, err := s.Vectors.Search(ctx, emb, s.topK(), map[string]string{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	span.SetAttributes(attribute.Int("matches", len(matches)))
	return matches, nil
}

// BuildContext joins the chunk text stored with each match, in match order,
// separated by a blank line. Matches without text are skipped.
func BuildContext(matches []VectorMatch) string {
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		text, ok := m.Metadata["text"].(string)
		if !ok || text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, ContextSeparator)
}

// BuildMessages returns a new message sequence: a system message carrying
// the prompt and retrieved context, then history, then the question as a
// user turn. history itself is left untouched.
func (s *ChatService) BuildMessages(question string, history []domain.ChatMessage, contextText string) ([]domain.ChatMessage, error) {
	out := make([]domain.ChatMessage, 0, len(history)+2)

	if sys := s.systemContent(contextText); sys != "" {
		m, err := domain.NewChatMessage(string(domain.RoleSystem), sys, map[string]any{"kind": "retrieval_context"})
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	out = append(out, history...)

	q, err := domain.NewChatMessage(string(domain.RoleUser), question, nil)
	if err != nil {
		return nil, err
	}
	return append(out, q), nil
}

func (s *ChatService) prepare(ctx context.Context, question, userID string, history []domain.ChatMessage) ([]domain.ChatMessage, string, error) {
	if strings.TrimSpace(question) == "" {
		return nil, "", ErrEmptyQuestion
	}
	matches, err := s.Retrieve(ctx, question, userID)
	if err != nil {
		return nil, "", err
	}
	contextText := BuildContext(matches)
	msgs, err := s.BuildMessages(question, history, contextText)
	if err != nil {
		return nil, "", err
	}
	logFor(ctx).Debug().
		Int("matches", len(matches)).
		Int("context_chars", len(contextText)).
		Int("messages", len(msgs)).
		Msg("prompt assembled")
	return msgs, contextText, nil
}

func (s *ChatService) systemContent(contextText string) string {
	prompt := strings.TrimSpace(s.SystemPrompt)
	switch {
	case contextText == "":
		return prompt
	case prompt == "":
		return "Context:\n" + contextText
	default:
		return prompt + "\n\nContext:\n" + contextText
	}
}

func (s *ChatService) topK() int {
	if s.TopK <= 0 {
		return DefaultTopK
	}
	return s.TopK
}

func (s *ChatService) observe(span trace.Span, mode string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		observability.Fail(span, err)
	}
	questionsAnswered.WithLabelValues(mode, outcome).Inc()
}
