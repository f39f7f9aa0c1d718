package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Varun-Patkar/RebirthRealm/internal/engine"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

// StoryRequest is the body of the story endpoints. NodeID defaults to the
// reader's current chapter.
type StoryRequest struct {
	NodeID    string           `json:"nodeId"`
	Decision  string           `json:"decision"`
	Direction string           `json:"direction"`
	Feedback  string           `json:"feedback"`
	Mode      models.StoryMode `json:"mode"`
}

// CurrentResponse pairs the reader's session with the chapter it points at.
type CurrentResponse struct {
	Session engine.Session    `json:"session"`
	Node    *models.StoryNode `json:"node,omitempty"`
}

func (h *Handlers) StartStory(w http.ResponseWriter, r *http.Request) {
	var req StoryRequest
	if !decode(w, r, &req) {
		return
	}
	node, err := h.engine.StartStory(r.Context(), scopeOf(r), engine.StartRequest{Mode: req.Mode, Direction: req.Direction})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *Handlers) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	var req StoryRequest
	if !decode(w, r, &req) {
		return
	}
	scope := scopeOf(r)
	nodeID, err := h.targetNode(r, scope, req.NodeID)
	if err != nil {
		h.fail(w, err)
		return
	}
	outcome, err := h.engine.SubmitDecision(r.Context(), scope, nodeID, req.Decision)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handlers) SubmitDirection(w http.ResponseWriter, r *http.Request) {
	var req StoryRequest
	if !decode(w, r, &req) {
		return
	}
	scope := scopeOf(r)
	nodeID, err := h.targetNode(r, scope, req.NodeID)
	if err != nil {
		h.fail(w, err)
		return
	}
	node, err := h.engine.SubmitDirection(r.Context(), scope, nodeID, req.Direction)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *Handlers) Navigate(w http.ResponseWriter, r *http.Request) {
	var req StoryRequest
	if !decode(w, r, &req) {
		return
	}
	if req.NodeID == "" {
		writeError(w, http.StatusBadRequest, "nodeId is required")
		return
	}
	node, err := h.engine.Navigate(r.Context(), scopeOf(r), req.NodeID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *Handlers) GoBack(w http.ResponseWriter, r *http.Request) {
	node, err := h.engine.GoBack(r.Context(), scopeOf(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *Handlers) Current(w http.ResponseWriter, r *http.Request) {
	scope := scopeOf(r)
	node, err := h.engine.Current(r.Context(), scope)
	if err != nil {
		h.fail(w, err)
		return
	}
	session, err := h.engine.State(r.Context(), scope)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CurrentResponse{Session: session, Node: node})
}

// targetNode falls back to the current chapter when nodeID is empty.
func (h *Handlers) targetNode(r *http.Request, scope models.Scope, nodeID string) (string, error) {
	if nodeID != "" {
		return nodeID, nil
	}
	current, err := h.engine.Current(r.Context(), scope)
	if err != nil {
		return "", err
	}
	if current == nil {
		return "", models.Invalid("nodeId", "the saga has no chapters yet")
	}
	return current.ID, nil
}

// Tree endpoints

func (h *Handlers) Timeline(w http.ResponseWriter, r *http.Request) {
	forest, err := h.engine.Timeline(r.Context(), scopeOf(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, forest)
}

func (h *Handlers) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.engine.Nodes(r.Context(), scopeOf(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (h *Handlers) DeleteAllNodes(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.DeleteAllNodes(r.Context(), scopeOf(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) GetNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.engine.GetNode(r.Context(), scopeOf(r), chi.URLParam(r, "nodeID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *Handlers) DeleteNode(w http.ResponseWriter, r *http.Request) {
	deleteChildren := false
	if v := r.URL.Query().Get("deleteChildren"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "deleteChildren must be a boolean")
			return
		}
		deleteChildren = b
	}
	result, err := h.engine.DeleteNode(r.Context(), scopeOf(r), chi.URLParam(r, "nodeID"), deleteChildren)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) Branch(w http.ResponseWriter, r *http.Request) {
	path, err := h.engine.Branch(r.Context(), scopeOf(r), chi.URLParam(r, "nodeID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, path)
}

func (h *Handlers) Regenerate(w http.ResponseWriter, r *http.Request) {
	var req StoryRequest
	if !decode(w, r, &req) {
		return
	}
	node, err := h.engine.Regenerate(r.Context(), scopeOf(r), chi.URLParam(r, "nodeID"), req.Feedback)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *Handlers) SearchChapters(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	hits, err := h.engine.SearchChapters(r.Context(), scopeOf(r), r.URL.Query().Get("q"), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

// ExportBranch renders into memory first so failures still get a JSON error.
func (h *Handlers) ExportBranch(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	var buf bytes.Buffer
	if err := h.engine.ExportBranch(r.Context(), scopeOf(r), nodeID, &buf); err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="branch-%s.pdf"`, nodeID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
