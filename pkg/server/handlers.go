package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/randalmurphal/paperflow/pkg/docstore"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/inflight"
	"github.com/randalmurphal/paperflow/pkg/linking"
	"github.com/randalmurphal/paperflow/pkg/trends"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// errBadRequest marks malformed input detected by the handlers themselves.
var errBadRequest = errors.New("bad request")

type linkingRequest struct {
	ProblemID string `json:"problemId" validate:"required"`
}

type reviewRequest struct {
	Status docstore.ReviewStatus `json:"status" validate:"required,oneof=accepted rejected"`
}

type trendRequest struct {
	Category string `json:"category" validate:"omitempty,max=64"`
	Period   string `json:"period" validate:"omitempty,oneof=daily weekly monthly"`
}

type trendTriggerResponse struct {
	TaskID  string `json:"taskId"`
	Message string `json:"message"`
}

type checkpointSummary struct {
	CheckpointID       string              `json:"checkpointId"`
	ParentCheckpointID string              `json:"parentCheckpointId,omitempty"`
	Metadata           checkpoint.Metadata `json:"metadata"`
	CreatedAt          time.Time           `json:"createdAt"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err.Error())
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, docstore.ErrNotFound), errors.Is(err, checkpoint.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.As(err, &verrs),
		errors.Is(err, linking.ErrProblemRequired),
		errors.Is(err, linking.ErrNotAwaitingApproval),
		errors.Is(err, linking.ErrNoAcceptedLinks),
		errors.Is(err, linking.ErrInvalidReview),
		errors.Is(err, trends.ErrInvalidPeriod),
		errors.Is(err, docstore.ErrInvalidDocument):
		return http.StatusBadRequest
	case errors.Is(err, docstore.ErrInvalidTransition), errors.Is(err, inflight.ErrAlreadyRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v and validates it. An empty body leaves v
// at its zero value when allowEmpty is set.
func decode(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	switch {
	case errors.Is(err, io.EOF) && allowEmpty:
	case err != nil:
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
	}
	return n, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTriggerLinking(w http.ResponseWriter, r *http.Request) {
	var req linkingRequest
	if err := decode(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.linking.Trigger(r.Context(), req.ProblemID, "api")
	switch {
	case errors.Is(err, linking.ErrRunFailed):
		s.metrics.RecordTrigger(string(docstore.AgentResearchLinking), "failed")
		s.logger.Error("research linking failed", "run_id", res.RunID, "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, res)
	case err != nil:
		s.metrics.RecordTrigger(string(docstore.AgentResearchLinking), "rejected")
		s.writeError(w, r, err)
	default:
		s.metrics.RecordTrigger(string(docstore.AgentResearchLinking), res.Status)
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleLinkingStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.linking.Status(r.Context(), chi.URLParam(r, "runId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleResumeLinking(w http.ResponseWriter, r *http.Request) {
	res, err := s.linking.Resume(r.Context(), chi.URLParam(r, "runId"))
	switch {
	case errors.Is(err, linking.ErrRunFailed):
		writeJSON(w, http.StatusInternalServerError, res)
	case err != nil:
		s.writeError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleReviewLink(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decode(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "linkId")
	if err := s.linking.ReviewLink(r.Context(), id, req.Status); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.RecordReview(string(req.Status))
	writeJSON(w, http.StatusOK, map[string]string{"linkId": id, "status": string(req.Status)})
}

func (s *Server) handleTriggerTrends(w http.ResponseWriter, r *http.Request) {
	var req trendRequest
	if err := decode(w, r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	run, err := s.trends.Trigger(r.Context(), trends.Request{
		Category: req.Category,
		Period:   trends.Period(req.Period),
	}, "api")
	if err != nil {
		s.metrics.RecordTrigger(string(docstore.AgentTrendAnalysis), "rejected")
		s.writeError(w, r, err)
		return
	}
	s.metrics.RecordTrigger(string(docstore.AgentTrendAnalysis), "started")
	writeJSON(w, http.StatusOK, trendTriggerResponse{
		TaskID:  run.ID,
		Message: fmt.Sprintf("Trend analysis agent started for %s (%s)", run.Input["category"], run.Input["period"]),
	})
}

func (s *Server) handleTrendStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("taskId")
	if taskID == "" {
		s.writeError(w, r, fmt.Errorf("%w: taskId query parameter is required", errBadRequest))
		return
	}
	run, err := s.store.GetRun(r.Context(), taskID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	runs, err := s.store.ListRuns(r.Context(), docstore.RunQuery{
		AgentType: docstore.AgentType(q.Get("agentType")),
		Status:    docstore.RunStatus(q.Get("status")),
		Limit:     limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runId")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	switch run.AgentType {
	case docstore.AgentResearchLinking:
		err = s.linking.Cancel(r.Context(), id)
	case docstore.AgentTrendAnalysis:
		err = s.trends.Cancel(r.Context(), id)
	default:
		err = s.store.CancelRun(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if run, err = s.store.GetRun(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "checkpointing is disabled"})
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	thread := chi.URLParam(r, "threadId")
	cps, err := s.checkpoints.List(r.Context(), thread, checkpoint.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]checkpointSummary, len(cps))
	for i, cp := range cps {
		out[i] = checkpointSummary{
			CheckpointID:       cp.CheckpointID,
			ParentCheckpointID: cp.ParentCheckpointID,
			Metadata:           cp.Metadata,
			CreatedAt:          cp.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"threadId": thread, "checkpoints": out})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		writeJSON(w, http.StatusOK, report)
	case "html":
		page, err := reportHTML(report)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(page)
	case "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, reportMarkdown(report))
	default:
		s.writeError(w, r, fmt.Errorf("%w: unknown format %q", errBadRequest, format))
	}
}
