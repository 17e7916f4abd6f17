// Chat HTTP handlers.
//
// This file exposes the question-answering endpoints:
//   - POST /chat/ask      (answer in one JSON response)
//   - POST /chat/stream   (answer as Server-Sent Events)
//
// Conversations are not stored: clients send prior turns in the request and
// the retrieved context is scoped to the caller's own documents.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/http/middleware"
)

// MaxQuestionRunes caps the question length accepted at the edge.
const MaxQuestionRunes = 4000

// maxHistory caps the number of prior turns forwarded to the model.
const maxHistory = 50

//
// DTOs
//

// HistoryMessage is one prior conversation turn.
type HistoryMessage struct {
	// Role is one of system, user or assistant (case-insensitive).
	Role string `json:"role" example:"user"`
	// Content is the turn text. It must be non-empty.
	Content string `json:"content" example:"What does the handbook say about leave?"`
}

// AskRequest is the JSON payload for asking a question.
type AskRequest struct {
	// Question is normalized (line endings, blank-line runs) before use.
	Question string `json:"question" binding:"required" example:"How many vacation days do new hires get?"`
	// History holds prior turns, oldest first.
	History []HistoryMessage `json:"history"`
}

// AskResponse carries the model's answer.
type AskResponse struct {
	Answer string `json:"answer" example:"New hires get 25 vacation days per year."`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
// CRLF/CR become LF, runs of 3+ LFs collapse to two, and surrounding
// whitespace is trimmed.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// bindAsk parses and validates an AskRequest, writing a 400 on failure.
func bindAsk(c *gin.Context) (string, []domain.ChatMessage, bool) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "question required")
		return "", nil, false
	}
	q := sanitizeContent(req.Question)
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "question required")
		return "", nil, false
	}
	if utf8.RuneCountInString(q) > MaxQuestionRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("question too long: max %d runes", MaxQuestionRunes))
		return "", nil, false
	}
	if len(req.History) > maxHistory {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("history too long: max %d turns", maxHistory))
		return "", nil, false
	}

	history := make([]domain.ChatMessage, 0, len(req.History))
	for i, hm := range req.History {
		m, err := domain.NewChatMessage(hm.Role, hm.Content, nil)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("history[%d]: %v", i, err))
			return "", nil, false
		}
		history = append(history, m)
	}
	return q, history, true
}

//
// Handlers
//

// AskQuestion godoc
// @ID          askQuestion
// @Summary     Ask a question about your documents
// @Description Retrieves the most relevant chunks of the caller's documents and answers with them as context.
// @Tags        Chat
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string               false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.AskRequest  true  "Question and prior turns"
//
// @Success     200  {object}  handlers.AskResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     502  {object}  handlers.ErrorResponse  "Model or vector store failed"
// @Router      /chat/ask [post]
func (h *Handlers) AskQuestion(c *gin.Context) {
	q, history, valid := bindAsk(c)
	if !valid {
		return
	}
	answer, err := h.chatSvc.AskQuestion(c.Request.Context(), q, userID(c), history)
	if err != nil {
		failErr(c, err, http.StatusBadGateway, ErrCodeAnswerFailed)
		return
	}
	ok(c, http.StatusOK, AskResponse{Answer: answer})
}

// StreamAnswer godoc
// @ID          streamAnswer
// @Summary     Ask a question and stream the answer
// @Description Same as /chat/ask but emits `message` events with answer fragments, then a `done` event.
// @Description A failure after streaming started is reported as an `error` event.
// @Tags        Chat
// @Accept      json
// @Produce     text/event-stream
//
// @Param       X-User-ID  header  string               false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.AskRequest  true  "Question and prior turns"
//
// @Success     200  {string}  string  "event stream"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     502  {object}  handlers.ErrorResponse  "Model or vector store failed"
// @Router      /chat/stream [post]
func (h *Handlers) StreamAnswer(c *gin.Context) {
	q, history, valid := bindAsk(c)
	if !valid {
		return
	}
	seq, err := h.chatSvc.AskQuestionStream(c.Request.Context(), q, userID(c), history)
	if err != nil {
		failErr(c, err, http.StatusBadGateway, ErrCodeAnswerFailed)
		return
	}

	hdr := c.Writer.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for frag, err := range seq {
		if err != nil {
			_ = c.Error(err)
			c.SSEvent("error", ErrorResponse{
				RequestID: middleware.RequestIDFrom(c),
				Code:      ErrCodeAnswerFailed,
				Message:   "answer stream interrupted",
			})
			c.Writer.Flush()
			return
		}
		c.SSEvent("message", frag)
		c.Writer.Flush()
	}
	c.SSEvent("done", "[DONE]")
	c.Writer.Flush()
}
