package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/metrics"
	"github.com/sells-group/renovation-report/internal/model"
)

const dispatchFailWrite = 5 * time.Second

// SubmitRequest is the body of POST /reports.
type SubmitRequest struct {
	InputKind     string `json:"input_kind" validate:"required,oneof=url address"`
	SourceURL     string `json:"source_url" validate:"required_if=InputKind url,max=2048"`
	SourceAddress string `json:"source_address" validate:"required_if=InputKind address,max=300"`
}

// SubmitResponse is returned for an accepted or cached submission.
type SubmitResponse struct {
	ID     string             `json:"id"`
	Status model.ReportStatus `json:"status"`
	Cached bool               `json:"cached"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		metrics.ReportsSubmittedTotal.WithLabelValues(req.InputKind, "invalid").Inc()
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	kind := model.InputKind(req.InputKind)
	raw := req.SourceURL
	if kind == model.InputKindAddress {
		raw = req.SourceAddress
	}
	in, err := s.classifier.Validate(kind, raw)
	if err != nil {
		metrics.ReportsSubmittedTotal.WithLabelValues(req.InputKind, "invalid").Inc()
		writeError(w, http.StatusBadRequest, invalidMessage(err))
		return
	}

	ctx := r.Context()
	if hit := s.fresh(ctx, in.Text()); hit != nil {
		metrics.ReportsSubmittedTotal.WithLabelValues(req.InputKind, "cached").Inc()
		writeJSON(w, http.StatusOK, SubmitResponse{ID: hit.ID, Status: hit.Status, Cached: true})
		return
	}

	rep, err := s.store.CreateReport(ctx, in)
	if err != nil {
		zap.L().Error("api: create report", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create report")
		return
	}
	log := zap.L().With(zap.String("report_id", rep.ID), zap.String("input_kind", string(kind)))

	if err := s.dispatcher.Dispatch(ctx, rep.ID); err != nil {
		log.Error("api: dispatch report", zap.Error(err))
		metrics.ReportsSubmittedTotal.WithLabelValues(req.InputKind, "dispatch_failed").Inc()
		reason := failure.Reason(failure.SourceUnavailable, failure.StageDispatch, kind)
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchFailWrite)
		defer cancel()
		if uerr := s.store.UpdateStatus(wctx, rep.ID, model.Transition{Status: model.StatusFailed, FailureReason: reason}); uerr != nil {
			log.Error("api: mark undispatched report failed", zap.Error(uerr))
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"id":     rep.ID,
			"status": model.StatusFailed,
			"error":  reason,
		})
		return
	}

	metrics.ReportsSubmittedTotal.WithLabelValues(req.InputKind, "created").Inc()
	log.Info("api: report accepted")
	writeJSON(w, http.StatusAccepted, SubmitResponse{ID: rep.ID, Status: rep.Status})
}

// fresh returns a recent completed report for text. Lookup errors are
// logged and treated as a miss.
func (s *Server) fresh(ctx context.Context, text string) *model.Report {
	if s.cache == nil {
		return nil
	}
	hit, err := s.cache.Lookup(ctx, text, s.opts.FreshnessDays)
	if err != nil {
		zap.L().Warn("api: freshness lookup failed", zap.Error(err))
		return nil
	}
	if hit != nil {
		zap.L().Info("api: reusing fresh report", zap.String("report_id", hit.ID))
	}
	return hit
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return fmt.Sprintf("validation error: %s - %s", ve[0].Field(), ve[0].Tag())
	}
	return "validation error: invalid request"
}

// invalidMessage returns the caller-facing part of an InvalidInput error.
func invalidMessage(err error) string {
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Kind == failure.InvalidInput && fe.Err != nil {
		return fe.Err.Error()
	}
	return "invalid input"
}
