package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arturoeanton/go-git-rag/internal/service"
)

// Server implements the Model Context Protocol (MCP) server.
// It exposes repository question answering and indexing as tools for external agents.
type Server struct {
	ragService  *service.RAGService
	repoService *service.RepoService
	queue       *service.IngestQueue
	port        string
	httpServer  *http.Server
}

// NewServer creates a new MCP server.
func NewServer(ragService *service.RAGService, repoService *service.RepoService, queue *service.IngestQueue, port string) *Server {
	s := &Server{
		ragService:  ragService,
		repoService: repoService,
		queue:       queue,
		port:        port,
	}
	s.httpServer = &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Tool represents an MCP tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var errInvalidParams = errors.New("invalid params")

// Handler returns the HTTP handler serving the MCP endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleRPC)
	mux.HandleFunc("/mcp/sse", s.handleSSE)
	return mux
}

// Start begins the MCP server on the configured port.
func (s *Server) Start() error {
	slog.Info("MCP server starting", "port", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, -32700, "parse error")
		return
	}

	var result any
	var err error

	switch req.Method {
	case "tools/list":
		result = s.listTools()
	case "tools/call":
		result, err = s.callTool(r.Context(), req.Params)
	case "initialize":
		result = map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo": map[string]string{
				"name":    "git-rag",
				"version": "1.0.0",
			},
			"capabilities": map[string]any{
				"tools": map[string]bool{"listChanged": false},
			},
		}
	default:
		writeError(w, req.ID, -32601, "method not found")
		return
	}

	if err != nil {
		code := -32603
		if errors.Is(err, errInvalidParams) {
			code = -32602
		}
		writeError(w, req.ID, code, err.Error())
		return
	}

	writeResult(w, req.ID, result)
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Send initial endpoint message
	fmt.Fprintf(w, "event: endpoint\ndata: /mcp\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	// Keep connection alive
	<-r.Context().Done()
}

func (s *Server) listTools() map[string]any {
	tools := []Tool{
		{
			Name:        "query_repository",
			Description: "Answer a question about the repository from its indexed commits",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"question": {"type": "string", "description": "Question about the repository"},
					"commitIds": {"type": "array", "items": {"type": "string"}, "description": "Optional commit hashes to restrict the search to"}
				},
				"required": ["question"]
			}`),
		},
		{
			Name:        "recent_commits",
			Description: "List the most recent commits of the mirrored repository",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"limit": {"type": "integer", "description": "Number of commits (1-100, default 20)"},
					"offset": {"type": "integer", "description": "Number of commits to skip"}
				}
			}`),
		},
		{
			Name:        "index_commits",
			Description: "Queue commits for embedding; returns a job id",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"commitIds": {"type": "array", "items": {"type": "string"}, "description": "Commit hashes to index"}
				},
				"required": ["commitIds"]
			}`),
		},
		{
			Name:        "index_stats",
			Description: "Report how many commits and chunks are indexed",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {}
			}`),
		},
	}
	return map[string]any{"tools": tools}
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidParams, err)
	}

	switch req.Name {
	case "query_repository":
		var args struct {
			Question  string   `json:"question"`
			CommitIDs []string `json:"commitIds"`
		}
		if err := decodeArgs(req.Arguments, &args); err != nil {
			return nil, err
		}

		answer, err := s.ragService.QueryRepository(ctx, args.Question, args.CommitIDs)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": answer.Text},
			},
			"sources":  answer.Sources,
			"fallback": answer.Fallback,
		}, nil

	case "recent_commits":
		var args struct {
			Limit  int `json:"limit"`
			Offset int `json:"offset"`
		}
		if err := decodeArgs(req.Arguments, &args); err != nil {
			return nil, err
		}

		commits, err := s.repoService.RecentCommits(ctx, args.Limit, args.Offset)
		if err != nil {
			return nil, err
		}
		lines := make([]string, len(commits))
		for i, c := range commits {
			mark := " "
			if c.Processed {
				mark = "*"
			}
			lines[i] = fmt.Sprintf("%s %s %s %s", mark, c.Hash, c.Author, firstLine(c.Message))
		}
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": strings.Join(lines, "\n")},
			},
			"commits": commits,
		}, nil

	case "index_commits":
		var args struct {
			CommitIDs []string `json:"commitIds"`
		}
		if err := decodeArgs(req.Arguments, &args); err != nil {
			return nil, err
		}
		if len(args.CommitIDs) == 0 {
			return nil, fmt.Errorf("%w: commitIds is required", errInvalidParams)
		}

		jobID, err := s.queue.Submit(args.CommitIDs)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": fmt.Sprintf("Queued %d commits as job %s", len(args.CommitIDs), jobID)},
			},
			"job_id": jobID,
		}, nil

	case "index_stats":
		stats, err := s.ragService.Statistics(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": fmt.Sprintf("%d embeddings across %d commits (%d processed)",
					stats.TotalEmbeddings, stats.TotalCommits, stats.ProcessedCommits)},
			},
			"stats": stats,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown tool: %s", errInvalidParams, req.Name)
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", errInvalidParams, err)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func writeResult(w http.ResponseWriter, id any, result any) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, id any, code int, message string) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
