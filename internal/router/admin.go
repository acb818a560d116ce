package router

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mixaill76/key_rotator/internal/models"
)

const maxAdminBodyBytes = 1 << 20

type groupRequest struct {
	Name string `json:"name"`
}

type activeGroupRequest struct {
	GroupID string `json:"groupId"`
}

type activeGroupResponse struct {
	GroupID string `json:"activeGroupId"`
}

type groupView struct {
	models.Group
	Active   bool `json:"active"`
	KeyCount int  `json:"keyCount"`
}

// decodeJSON reads a JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, req *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxAdminBodyBytes))
	if err := dec.Decode(v); err != nil {
		WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err), "")
		return false
	}
	return true
}

func (r *Router) handleListKeys(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var (
		creds []models.Credential
		err   error
	)
	if groupID := req.URL.Query().Get("groupId"); groupID != "" {
		creds, err = r.admin.CredentialsByGroup(ctx, groupID)
	} else {
		creds, err = r.admin.ListCredentials(ctx)
	}
	if err != nil {
		r.writeStoreError(w, err)
		return
	}

	views, err := r.stats.Views(ctx, creds)
	if err != nil {
		r.logger.Error("Failed to build key views", "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// handleCreateKey adds a key. Without groupId it joins the active group.
func (r *Router) handleCreateKey(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var in models.CredentialInput
	if !decodeJSON(w, req, &in) {
		return
	}

	c := models.Credential{Enabled: true}
	if in.GroupID == nil {
		groupID, err := r.admin.ActiveGroupID(ctx)
		if err != nil {
			r.writeStoreError(w, err)
			return
		}
		c.GroupID = groupID
	}
	in.Apply(&c)

	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	created, err := r.admin.CreateCredential(ctx, c)
	if err != nil {
		r.writeStoreError(w, err)
		return
	}
	r.reloadPool(ctx)

	r.logger.Info("API key created", "credential", &created)
	writeJSON(w, http.StatusCreated, created.View())
}

func (r *Router) handleUpdateKey(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	id := chi.URLParam(req, "keyID")

	var in models.CredentialInput
	if !decodeJSON(w, req, &in) {
		return
	}

	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	updated, err := r.admin.UpdateCredential(ctx, id, in)
	if err != nil {
		r.writeStoreError(w, err)
		return
	}
	// A replaced secret is a different upstream key.
	if in.Secret != nil {
		r.cooldown.Clear(id)
		r.hub.SetStatus(id, models.KeyIdle)
	}
	r.reloadPool(ctx)

	r.logger.Info("API key updated", "credential", &updated)
	writeJSON(w, http.StatusOK, updated.View())
}

func (r *Router) handleDeleteKey(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	id := chi.URLParam(req, "keyID")

	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	if err := r.admin.DeleteCredential(ctx, id); err != nil {
		r.writeStoreError(w, err)
		return
	}
	r.cooldown.Clear(id)
	r.reloadPool(ctx)

	r.logger.Info("API key deleted", "credential_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleListGroups(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	groups, err := r.admin.ListGroups(ctx)
	if err != nil {
		r.writeStoreError(w, err)
		return
	}
	creds, err := r.admin.ListCredentials(ctx)
	if err != nil {
		r.writeStoreError(w, err)
		return
	}
	active, err := r.admin.ActiveGroupID(ctx)
	if err != nil {
		r.writeStoreError(w, err)
		return
	}

	counts := make(map[string]int, len(groups))
	for _, c := range creds {
		counts[c.GroupID]++
	}

	views := make([]groupView, 0, len(groups))
	for _, g := range groups {
		views = append(views, groupView{
			Group:    g,
			Active:   g.ID == active,
			KeyCount: counts[g.ID],
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (r *Router) handleCreateGroup(w http.ResponseWriter, req *http.Request) {
	var body groupRequest
	if !decodeJSON(w, req, &body) {
		return
	}

	g, err := r.admin.CreateGroup(req.Context(), models.Group{Name: body.Name})
	if err != nil {
		r.writeStoreError(w, err)
		return
	}

	r.logger.Info("Key group created", "group_id", g.ID, "name", g.Name)
	writeJSON(w, http.StatusCreated, g)
}

func (r *Router) handleRenameGroup(w http.ResponseWriter, req *http.Request) {
	var body groupRequest
	if !decodeJSON(w, req, &body) {
		return
	}

	g, err := r.admin.RenameGroup(req.Context(), chi.URLParam(req, "groupID"), body.Name)
	if err != nil {
		r.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (r *Router) handleDeleteGroup(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	id := chi.URLParam(req, "groupID")

	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	if err := r.admin.DeleteGroup(ctx, id); err != nil {
		r.writeStoreError(w, err)
		return
	}
	r.reloadPool(ctx)

	r.logger.Info("Key group deleted", "group_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleGetActiveGroup(w http.ResponseWriter, req *http.Request) {
	id, err := r.admin.ActiveGroupID(req.Context())
	if err != nil {
		r.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activeGroupResponse{GroupID: id})
}

func (r *Router) handleSetActiveGroup(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var body activeGroupRequest
	if !decodeJSON(w, req, &body) {
		return
	}

	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	if err := r.admin.SetActiveGroup(ctx, body.GroupID); err != nil {
		r.writeStoreError(w, err)
		return
	}
	r.reloadPool(ctx)

	r.logger.Info("Active key group changed", "group_id", body.GroupID)
	writeJSON(w, http.StatusOK, activeGroupResponse{GroupID: body.GroupID})
}
