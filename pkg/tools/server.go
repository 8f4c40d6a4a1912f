package tools

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the tool registry over a single JSON-RPC entry point
// plus a small REST surface for the approval queue.
type Server struct {
	registry  *Registry
	approvals *ApprovalQueue
	router    chi.Router
}

func NewServer(registry *Registry, approvals *ApprovalQueue) *Server {
	s := &Server{
		registry:  registry,
		approvals: approvals,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/rpc", s.handleRPC)
	r.Get("/approvals", s.handleListApprovals)
	r.Get("/approvals/{id}", s.handleGetApproval)
	r.Post("/approvals/{id}/approve", s.handleApprove)
	r.Post("/approvals/{id}/deny", s.handleDeny)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	s.router = r

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPC(w, http.StatusBadRequest, Response{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: CodeParseError, Message: "malformed JSON-RPC request"},
		})
		return
	}

	switch req.Method {
	case "tools/list":
		writeRPC(w, http.StatusOK, Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]any{"tools": s.registry.ListTools()},
		})

	case "tools/call":
		s.handleCall(w, r, req)

	default:
		writeRPC(w, http.StatusOK, Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + req.Method},
		})
	}
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request, req Request) {
	raw, err := json.Marshal(req.Params)
	if err != nil {
		writeRPC(w, http.StatusOK, Response{
			JSONRPC: "2.0", ID: req.ID,
			Error: &RPCError{Code: CodeInvalidParams, Message: "invalid params"},
		})
		return
	}
	var params CallParams
	if err := json.Unmarshal(raw, &params); err != nil || params.Name == "" {
		writeRPC(w, http.StatusOK, Response{
			JSONRPC: "2.0", ID: req.ID,
			Error: &RPCError{Code: CodeInvalidParams, Message: "tool name is required"},
		})
		return
	}

	if s.registry.Sensitive(params.Name) {
		approval := s.approvals.Enqueue(params.Name, params.Arguments, params.SessionID, "sensitive tool requires user approval")
		writeRPC(w, http.StatusForbidden, Response{
			JSONRPC: "2.0", ID: req.ID,
			Error: &RPCError{
				Code:    CodeApprovalRequired,
				Message: "tool call requires user approval",
				Data:    map[string]any{"approval_id": approval.ID, "tool": params.Name},
			},
		})
		return
	}

	result, execErr := s.registry.ExecuteTool(r.Context(), params.Name, params.Arguments)
	if execErr != nil && result.Error == "" {
		result.Error = execErr.Error()
	}
	writeRPC(w, http.StatusOK, Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  callResult(result),
	})
}

// callResult frames a ToolResult in the content-array shape callers
// expect from a tools/call response.
func callResult(result ToolResult) map[string]any {
	text := result.Content
	if !result.Success && result.Error != "" {
		text = result.Error
	}
	return map[string]any{
		"content":  []map[string]any{{"type": "text", "text": text}},
		"isError":  !result.Success,
		"metadata": result.Metadata,
	}
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"approvals": s.approvals.Pending()})
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	approval, ok := s.approvals.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "approval not found"})
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	approval, err := s.approvals.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	approval, err := s.approvals.Deny(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"tools":  len(s.registry.ListTools()),
	})
}

func writeRPC(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode RPC response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
