package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/onexay/pushwatch/internal/storage"
)

// Handler builds the REST routes for the service.
func Handler(svc *Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// route on the escaped path so escaped slashes in build ids survive
		path := strings.TrimPrefix(r.URL.EscapedPath(), "/api/v1")
		if path == "" || path == "/" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown endpoint"})
			return
		}

		switch {
		case path == "/trees":
			svc.handleTrees(w, r)
		case strings.HasPrefix(path, "/tree/"):
			svc.handleTree(w, r, strings.TrimPrefix(path, "/tree/"))
		case strings.HasPrefix(path, "/policies"):
			svc.handlePolicies(w, r, strings.TrimPrefix(path, "/policies"))
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource"})
		}
	})
}

func (s *Service) handleTrees(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, s.Trees())
}

// handleTree serves /tree/{name}/pushes, /tree/{name}/meta,
// /tree/{name}/push/{id} and /tree/{name}/push/{id}/log/{buildId}.
func (s *Service) handleTree(w http.ResponseWriter, r *http.Request, tail string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	rawName, rest, _ := strings.Cut(tail, "/")
	name, err := url.PathUnescape(rawName)
	if err != nil || name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tree name required"})
		return
	}

	switch {
	case rest == "pushes":
		s.handlePushes(w, r, name)
	case rest == "meta":
		meta, err := s.TreeMeta(r.Context(), name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, meta)
	case strings.HasPrefix(rest, "push/"):
		s.handlePush(w, r, name, strings.TrimPrefix(rest, "push/"))
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource"})
	}
}

func (s *Service) handlePushes(w http.ResponseWriter, r *http.Request, tree string) {
	query := r.URL.Query()

	var highPushID int64
	if v := query.Get("highpushid"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "highpushid must be a non-negative integer"})
			return
		}
		highPushID = n
	}

	var limit int
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	pushes, err := s.RecentPushes(r.Context(), tree, highPushID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pushes)
}

func (s *Service) handlePush(w http.ResponseWriter, r *http.Request, tree, tail string) {
	idStr, rest, hasRest := strings.Cut(tail, "/")
	pushID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || pushID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "push id must be a positive integer"})
		return
	}

	if !hasRest {
		push, err := s.Push(r.Context(), tree, pushID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, push)
		return
	}

	rawBuild, ok := strings.CutPrefix(rest, "log/")
	if !ok || rawBuild == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource"})
		return
	}
	buildID, err := url.PathUnescape(rawBuild)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid build id"})
		return
	}
	payload, err := s.PushLog(r.Context(), tree, pushID, buildID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pushId":       pushID,
		"buildId":      buildID,
		"processedLog": payload,
	})
}

func (s *Service) handlePolicies(w http.ResponseWriter, r *http.Request, tail string) {
	tail = strings.TrimPrefix(tail, "/")
	switch {
	case tail == "" && r.Method == http.MethodPost:
		var req policyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			return
		}
		if req.Tree == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tree is required"})
			return
		}
		policy := storage.RetentionPolicy{Tree: req.Tree}
		if req.HotPushLimit != nil {
			policy.HotPushLimit = *req.HotPushLimit
		}
		if req.HotDuration != "" {
			d, err := time.ParseDuration(req.HotDuration)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid hotDuration"})
				return
			}
			policy.HotDuration = d
		}
		policy, err := s.SetPolicy(r.Context(), policy)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, makePolicyResponse(policy))
	case tail == "" && r.Method == http.MethodGet:
		tree := r.URL.Query().Get("tree")
		if tree == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tree query parameter required"})
			return
		}
		policy, err := s.Policy(r.Context(), tree)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, makePolicyResponse(policy))
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

type policyRequest struct {
	Tree         string `json:"tree"`
	HotPushLimit *int   `json:"hotPushLimit,omitempty"`
	HotDuration  string `json:"hotDuration,omitempty"`
}

// PolicyResponse is the wire form of a retention policy.
type PolicyResponse struct {
	Tree         string `json:"tree"`
	HotPushLimit int    `json:"hotPushLimit,omitempty"`
	HotDuration  string `json:"hotDuration,omitempty"`
	Locked       bool   `json:"locked"`
}

func makePolicyResponse(policy storage.RetentionPolicy) PolicyResponse {
	resp := PolicyResponse{
		Tree:         policy.Tree,
		HotPushLimit: policy.HotPushLimit,
		Locked:       policy.Locked,
	}
	if policy.HotDuration > 0 {
		resp.HotDuration = policy.HotDuration.String()
	}
	return resp
}

func writeError(w http.ResponseWriter, err error) {
	var notFound *storage.NotFoundError
	if errors.As(err, &notFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": notFound.Error()})
		return
	}

	var conflict *storage.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": conflict.Error()})
		return
	}

	var validation *storage.ValidationError
	if errors.As(err, &validation) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validation.Error()})
		return
	}

	var broken *ReconstructError
	if errors.As(err, &broken) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": broken.Error()})
		return
	}

	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
