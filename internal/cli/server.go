package cli

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/klyuchko/unitjob/internal/jobengine"
	"github.com/klyuchko/unitjob/internal/metrics"
	"github.com/klyuchko/unitjob/pkg/unit"
)

// apiServer is the tiny JSON API unitjobctl talks to. No router library
// is available, so this stays on net/http's own mux rather than
// reaching for one.
type apiServer struct {
	mgr     *jobengine.Manager
	metrics *metrics.Collector
}

type jobRequest struct {
	Kind string `json:"kind"`
	Mode string `json:"mode"`
}

type jobResponse struct {
	Adds    []jobengine.JobInfo `json:"adds"`
	Dels    []jobengine.JobInfo `json:"dels"`
	Updates []jobengine.JobInfo `json:"updates"`
}

type statusResponse struct {
	Kinds   map[string]int64 `json:"kinds"`
	Stages  map[string]int64 `json:"stages"`
	Results map[string]int64 `json:"results"`
}

func newAPIServer(mgr *jobengine.Manager, mc *metrics.Collector) http.Handler {
	s := &apiServer{mgr: mgr, metrics: mc}
	mux := http.NewServeMux()
	mux.HandleFunc("/units/", s.handleUnit)
	mux.HandleFunc("/jobs/", s.handleJob)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

func (s *apiServer) handleUnit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/units/")
	if id == "" {
		http.Error(w, "missing unit id", http.StatusBadRequest)
		return
	}
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kind, err := unit.ParseJobKind(req.Kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mode := unit.ModeReplace
	if req.Mode != "" {
		mode, err = parseJobMode(req.Mode)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	affect, err := s.mgr.Exec(unit.ID(id), kind, mode)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{Adds: affect.Adds, Dels: affect.Dels, Updates: affect.Updates})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/jobs/")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	if err := s.mgr.Cancel(unit.JobID(id)); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	kinds, stages, results := s.mgr.Stats().Snapshot()
	resp := statusResponse{
		Kinds:   stringifyJobKindCounts(kinds),
		Stages:  stringifyJobStageCounts(stages),
		Results: stringifyJobResultCounts(results),
	}
	writeJSON(w, http.StatusOK, resp)
}

func stringifyJobKindCounts(in map[unit.JobKind]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k.String()] = v
	}
	return out
}

func stringifyJobStageCounts(in map[unit.JobStage]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k.String()] = v
	}
	return out
}

func stringifyJobResultCounts(in map[unit.JobResult]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k.String()] = v
	}
	return out
}

func parseJobMode(s string) (unit.JobMode, error) {
	switch s {
	case "fail":
		return unit.ModeFail, nil
	case "replace":
		return unit.ModeReplace, nil
	case "replace-irreversible":
		return unit.ModeReplaceIrreversible, nil
	case "isolate":
		return unit.ModeIsolate, nil
	case "flush":
		return unit.ModeFlush, nil
	case "ignore-dependencies":
		return unit.ModeIgnoreDependencies, nil
	case "ignore-requirements":
		return unit.ModeIgnoreRequirements, nil
	case "trigger":
		return unit.ModeTrigger, nil
	default:
		return 0, errUnknownMode(s)
	}
}

type errUnknownMode string

func (e errUnknownMode) Error() string { return "cli: unknown job mode \"" + string(e) + "\"" }

// writeEngineError maps a jobengine.Error's Kind to the HTTP status the
// CLI surface translates back into an exit code.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if e, ok := err.(*jobengine.Error); ok {
		switch e.Kind {
		case jobengine.KindNotExisted:
			status = http.StatusNotFound
		case jobengine.KindConflict:
			status = http.StatusConflict
		case jobengine.KindNotSupported:
			status = http.StatusUnprocessableEntity
		case jobengine.KindBadRequest, jobengine.KindInput:
			status = http.StatusBadRequest
		case jobengine.KindInternal:
			status = http.StatusInternalServerError
		}
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
