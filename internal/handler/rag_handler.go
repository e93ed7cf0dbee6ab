package handler

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-git-rag/internal/domain"
	"github.com/arturoeanton/go-git-rag/internal/service"
	"github.com/arturoeanton/go-git-rag/internal/session"
)

// RAGHandler handles question answering and index maintenance endpoints.
type RAGHandler struct {
	ragService *service.RAGService
	sessions   *session.Store
}

// NewRAGHandler creates a new RAG handler. sessions may be nil.
func NewRAGHandler(ragService *service.RAGService, sessions *session.Store) *RAGHandler {
	return &RAGHandler{ragService: ragService, sessions: sessions}
}

// Register sets up RAG routes.
func (h *RAGHandler) Register(router fiber.Router) {
	router.Post("/query", h.Query)
	router.Get("/stats", h.Stats)
	router.Delete("/commits/:hash/embeddings", h.Purge)
	router.Get("/conversations/:id", h.Conversation)
	router.Delete("/conversations/:id", h.ForgetConversation)
}

type queryRequest struct {
	Question       string   `json:"question"`
	CommitIDs      []string `json:"commitIds"`
	ConversationID string   `json:"conversationId"`
}

type queryResponse struct {
	*domain.Answer
	CommitIDs      []string `json:"commitIds,omitempty"`
	ConversationID string   `json:"conversationId,omitempty"`
}

// Query answers a question about the repository. With a conversation id, a
// follow-up without commitIds reuses the previous commit scope.
func (h *RAGHandler) Query(c fiber.Ctx) error {
	var body queryRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	scope := body.CommitIDs
	if h.sessions != nil && strings.TrimSpace(body.Question) != "" {
		scope = h.sessions.Resolve(body.ConversationID, body.CommitIDs)
	}

	answer, err := h.ragService.QueryRepository(c.Context(), body.Question, scope)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(queryResponse{Answer: answer, CommitIDs: scope, ConversationID: body.ConversationID})
}

// Stats returns index statistics.
func (h *RAGHandler) Stats(c fiber.Ctx) error {
	stats, err := h.ragService.Statistics(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(stats)
}

// Purge deletes every embedding of a commit. The commit stays processed.
func (h *RAGHandler) Purge(c fiber.Ctx) error {
	hash := c.Params("hash")

	deleted, err := h.ragService.PurgeCommit(c.Context(), hash)
	if err != nil {
		return writeError(c, err)
	}
	processed, err := h.ragService.IsCommitProcessed(c.Context(), hash)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"commit":    hash,
		"deleted":   deleted,
		"processed": processed,
	})
}

// Conversation returns the remembered scope of a conversation.
func (h *RAGHandler) Conversation(c fiber.Ctx) error {
	if h.sessions == nil {
		return conversationNotFound(c)
	}
	conv, ok := h.sessions.Get(c.Params("id"))
	if !ok {
		return conversationNotFound(c)
	}
	return c.JSON(conv)
}

// ForgetConversation drops a conversation so the next question starts unscoped.
func (h *RAGHandler) ForgetConversation(c fiber.Ctx) error {
	if h.sessions == nil || !h.sessions.Delete(c.Params("id")) {
		return conversationNotFound(c)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func conversationNotFound(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "conversation not found"})
}
