package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-git-rag/internal/service"
)

// RepoHandler handles mirror endpoints: sync, commit listing and diffs.
type RepoHandler struct {
	repoService *service.RepoService
}

// NewRepoHandler creates a new repo handler.
func NewRepoHandler(repoService *service.RepoService) *RepoHandler {
	return &RepoHandler{repoService: repoService}
}

// Register sets up repo routes.
func (h *RepoHandler) Register(router fiber.Router) {
	router.Post("/sync", h.Sync)
	router.Get("/mirror", h.Mirror)

	commits := router.Group("/commits")
	commits.Get("/", h.ListCommits)
	commits.Get("/:hash/diff", h.Diff)
}

// Sync clones or fast-forwards the mirror.
func (h *RepoHandler) Sync(c fiber.Ctx) error {
	out, err := h.repoService.Sync(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// Mirror returns the mirror status.
func (h *RepoHandler) Mirror(c fiber.Ctx) error {
	return c.JSON(h.repoService.Status())
}

// ListCommits returns recent commits with their processed flag.
func (h *RepoHandler) ListCommits(c fiber.Ctx) error {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		return badRequest(c, "invalid limit")
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return badRequest(c, "invalid offset")
	}

	commits, err := h.repoService.RecentCommits(c.Context(), limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"commits": commits, "count": len(commits)})
}

// Diff returns the unified diff of a commit.
func (h *RepoHandler) Diff(c fiber.Ctx) error {
	hash := c.Params("hash")
	diff, err := h.repoService.Diff(c.Context(), hash)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"hash": hash, "diff": diff})
}

func queryInt(c fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
