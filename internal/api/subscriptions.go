package api

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
)

// entityIDPattern matches hub entity ids such as "light.kitchen".
var entityIDPattern = regexp.MustCompile(`^[a-z0-9_]+\.[a-z0-9_]+$`)

// SubscriptionsResponse is returned by every subscription endpoint.
type SubscriptionsResponse struct {
	Entities []string `json:"entities"`
	Count    int      `json:"count"`

	// Filtering is false when the set is empty and every entity is
	// forwarded.
	Filtering bool `json:"filtering"`
}

// ReplaceSubscriptionsRequest is the body of PUT /api/v1/subscriptions.
type ReplaceSubscriptionsRequest struct {
	Entities []string `json:"entities"`
}

func (s *Server) subscriptionsResponse() SubscriptionsResponse {
	snap := s.subs.Snapshot()
	ids := snap.IDs()
	return SubscriptionsResponse{
		Entities:  ids,
		Count:     len(ids),
		Filtering: !snap.IsEmpty(),
	}
}

// handleListSubscriptions returns the current subscription set.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.subscriptionsResponse())
}

// handleAddSubscription adds one entity. Adding an entity already present
// is not an error.
func (s *Server) handleAddSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entityID")
	if !entityIDPattern.MatchString(id) {
		writeValidationError(w, "invalid entity id: "+id)
		return
	}

	s.subs.Add(id)
	s.logger.Info("subscription added", "entity_id", id)
	writeJSON(w, http.StatusOK, s.subscriptionsResponse())
}

// handleRemoveSubscription removes one entity.
func (s *Server) handleRemoveSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entityID")
	if !s.subs.Remove(id) {
		writeNotFound(w, "entity not subscribed: "+id)
		return
	}
	s.logger.Info("subscription removed", "entity_id", id)
	writeJSON(w, http.StatusOK, s.subscriptionsResponse())
}

// handleReplaceSubscriptions swaps the whole set in one step.
func (s *Server) handleReplaceSubscriptions(w http.ResponseWriter, r *http.Request) {
	var req ReplaceSubscriptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	for _, id := range req.Entities {
		if !entityIDPattern.MatchString(id) {
			writeValidationError(w, "invalid entity id: "+id)
			return
		}
	}

	s.subs.Replace(req.Entities)
	s.logger.Info("subscriptions replaced", "count", s.subs.Len())
	writeJSON(w, http.StatusOK, s.subscriptionsResponse())
}

// handleClearSubscriptions empties the set, which forwards every entity.
func (s *Server) handleClearSubscriptions(w http.ResponseWriter, _ *http.Request) {
	s.subs.Clear()
	s.logger.Info("subscriptions cleared")
	writeJSON(w, http.StatusOK, s.subscriptionsResponse())
}
