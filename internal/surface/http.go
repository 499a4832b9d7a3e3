package surface

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agentmem/substrate/internal/memtypes"
	"github.com/agentmem/substrate/internal/retrieval"
	"github.com/agentmem/substrate/internal/workingmemory"
)

// Router builds the /v1/memory/<op> HTTP surface described in spec §6,
// mirroring the teacher's mux-based server.go route registration.
func (o *Operations) Router() *mux.Router {
	r := mux.NewRouter()
	base := r.PathPrefix("/v1/memory").Subrouter()

	base.HandleFunc("/init", o.handleInit).Methods(http.MethodPost)
	base.HandleFunc("/load/{agent}", o.handleLoad).Methods(http.MethodGet)
	base.HandleFunc("/update", o.handleUpdate).Methods(http.MethodPost)
	base.HandleFunc("/clear/{agent}", o.handleClear).Methods(http.MethodPost)
	base.HandleFunc("/store", o.handleStore).Methods(http.MethodPost)
	base.HandleFunc("/retrieve", o.handleRetrieve).Methods(http.MethodPost)
	base.HandleFunc("/archive-task", o.handleArchiveTask).Methods(http.MethodPost)
	base.HandleFunc("/check-context", o.handleCheckContext).Methods(http.MethodPost)
	base.HandleFunc("/hygiene", o.handleHygiene).Methods(http.MethodPost)
	base.HandleFunc("/health/{agent}", o.handleHealth).Methods(http.MethodGet)

	if o.hub != nil {
		base.HandleFunc("/events", o.hub.ServeWS)
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (o *Operations) handleInit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent     string           `json:"agent"`
		SessionID string           `json:"sessionId"`
		Context   memtypes.Context `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	wm, err := o.InitWorking(r.Context(), body.Agent, body.SessionID, body.Context)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, wm)
}

func (o *Operations) handleLoad(w http.ResponseWriter, r *http.Request) {
	agent := mux.Vars(r)["agent"]
	wm, err := o.LoadWorking(agent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, wm)
}

func (o *Operations) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent string                        `json:"agent"`
		Delta workingmemory.UpdateRequest   `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	wm, err := o.UpdateWorking(r.Context(), body.Agent, body.Delta)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, wm)
}

func (o *Operations) handleClear(w http.ResponseWriter, r *http.Request) {
	agent := mux.Vars(r)["agent"]
	wm, err := o.ClearWorking(r.Context(), agent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, wm)
}

func (o *Operations) handleStore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent    string                 `json:"agent"`
		Text     string                 `json:"text"`
		Type     string                 `json:"type"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := o.StoreLongTerm(r.Context(), body.Agent, body.Text, body.Type, body.Metadata)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (o *Operations) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent string            `json:"agent"`
		Query string            `json:"query"`
		Opts  retrieval.Options `json:"opts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := o.RetrieveMemory(r.Context(), body.Agent, body.Query, body.Opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (o *Operations) handleArchiveTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent  string `json:"agent"`
		TaskID string `json:"taskId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	wm, err := o.ArchiveTask(r.Context(), body.Agent, body.TaskID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, wm)
}

func (o *Operations) handleCheckContext(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent    string   `json:"agent"`
		Required []string `json:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := o.CheckContext(body.Agent, body.Required)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (o *Operations) handleHygiene(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent string `json:"agent"`
		Force bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := o.PerformHygiene(r.Context(), body.Agent, body.Force)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (o *Operations) handleHealth(w http.ResponseWriter, r *http.Request) {
	agent := mux.Vars(r)["agent"]
	result, err := o.HealthCheck(r.Context(), agent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
