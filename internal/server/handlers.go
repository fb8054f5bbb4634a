package server

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/copyleftdev/godirect/internal/errors"
)

func isClientError(err error) bool {
	code := apierrors.StatusCode(err)
	return code >= 400 && code < 500
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// handleOptimize handles POST /api/v1/optimize.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteJSON(w, apierrors.Wrap(err, "invalid request body").WithCode(http.StatusBadRequest))
		return
	}

	result, err := s.startOptimization(req)
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.optimizationStatus(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCancel handles DELETE /api/v1/optimization/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cancelOptimization(chi.URLParam(r, "id")); err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "cancellation requested",
	})
}

// handleEvents streams a job's progress as server-sent events until the job
// ends or the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		apierrors.WriteJSON(w, apierrors.New("streaming unsupported"))
		return
	}

	// Subscribe before reading the state so no event between the two is lost.
	ch, cancel := s.hub.Subscribe(id)
	defer cancel()

	snapshot, err := s.optimizationStatus(id)
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	state, _ := json.Marshal(snapshot)
	fmt.Fprintf(w, "event: status\ndata: %s\n\n", state)
	flusher.Flush()

	switch snapshot["status"] {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: msg\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// handleHistoryCSV exports the recorded evaluations of a job. History is
// only kept when the job was started with the history option.
func (s *Server) handleHistoryCSV(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.optimizationsMu.RLock()
	state, err := s.lookup(id)
	s.optimizationsMu.RUnlock()
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	history := state.Optimizer.GetHistory()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=history_"+id+".csv")

	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"evaluation", "feasible", "f"}
	for i := range state.Bounds {
		header = append(header, "x"+strconv.Itoa(i))
	}
	_ = cw.Write(header)

	for _, ev := range history {
		row := []string{
			strconv.Itoa(ev.Iteration),
			strconv.FormatBool(ev.Feasible),
			fmtFloat(ev.Solution.Value),
		}
		for _, v := range ev.Solution.Parameters {
			row = append(row, fmtFloat(v))
		}
		_ = cw.Write(row)
	}
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 16, 64)
}
