package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/shellkeeper/internal/api/models"
	"github.com/smazurov/shellkeeper/internal/logging"
	"github.com/smazurov/shellkeeper/internal/process"
)

// domainToAPIStatus converts a supervisor snapshot to its API shape.
func domainToAPIStatus(st process.Status) models.BackendStatus {
	out := models.BackendStatus{
		State:           string(st.State),
		Outcome:         string(st.Outcome),
		SessionID:       st.SessionID,
		PID:             st.PID,
		Launches:        st.Launches,
		Restarts:        st.Restarts,
		BudgetRemaining: st.BudgetRemaining,
		LastExitCode:    st.LastExitCode,
	}
	if !st.StartedAt.IsZero() {
		t := st.StartedAt
		out.StartedAt = &t
	}
	if !st.ReadyAt.IsZero() {
		t := st.ReadyAt
		out.ReadyAt = &t
	}
	if st.LastError != nil {
		out.Error = apiError(st.LastError)
	}
	return out
}

func apiError(err error) *models.BackendError {
	be := &models.BackendError{Code: process.Code(err), Message: err.Error()}
	var pe *process.Error
	if errors.As(err, &pe) && pe.Message != "" {
		be.Message = pe.Message
	}
	return be
}

func domainToAPIOutput(entries []logging.LogEntry) []models.BackendOutputLine {
	lines := make([]models.BackendOutputLine, 0, len(entries))
	for _, e := range entries {
		source, _ := e.Attributes["source"].(string)
		lines = append(lines, models.BackendOutputLine{
			Seq:       e.Seq,
			Timestamp: e.Timestamp,
			Source:    source,
			Level:     e.Level,
			Message:   e.Message,
		})
	}
	return lines
}

// registerBackendRoutes registers the supervisor control endpoints.
func (s *Server) registerBackendRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-backend-status",
		Method:      http.MethodGet,
		Path:        "/api/backend/status",
		Summary:     "Backend Status",
		Description: "Current supervisor state, process details and the last error",
		Tags:        []string{"backend"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.BackendStatusResponse, error) {
		return &models.BackendStatusResponse{
			Body: domainToAPIStatus(s.options.Backend.Status()),
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "start-backend",
		Method:        http.MethodPost,
		Path:          "/api/backend/start",
		Summary:       "Start Backend",
		Description:   "Start a new supervision session after the backend failed. With wait=true the request blocks until the backend is ready or has failed again.",
		Tags:          []string{"backend"},
		DefaultStatus: http.StatusAccepted,
		Security:      withAuth(),
		Errors:        []int{401, 409, 410, 504},
	}, func(ctx context.Context, input *models.BackendStartRequest) (*models.BackendStartResponse, error) {
		if err := s.options.Backend.Start(ctx); err != nil {
			switch {
			case errors.Is(err, process.ErrAlreadyRunning):
				return nil, huma.Error409Conflict("Backend is already running", err)
			case errors.Is(err, process.ErrShutDown):
				return nil, huma.NewError(http.StatusGone, "Supervisor has shut down", err)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil, huma.Error504GatewayTimeout("Start request abandoned", err)
			}
			// Launch failures are reported through the status body
			s.logger.Warn("Backend start failed", "error", err)
		}

		if !input.Wait {
			return &models.BackendStartResponse{
				Status: http.StatusAccepted,
				Body:   domainToAPIStatus(s.options.Backend.Status()),
			}, nil
		}

		st, err := s.options.Backend.WaitReady(ctx)
		if err != nil && ctx.Err() != nil {
			return nil, huma.Error504GatewayTimeout("Backend did not settle before the request ended", err)
		}
		return &models.BackendStartResponse{
			Status: http.StatusOK,
			Body:   domainToAPIStatus(st),
		}, nil
	})

	if s.options.Output == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "get-backend-output",
		Method:      http.MethodGet,
		Path:        "/api/backend/output",
		Summary:     "Backend Output",
		Description: "Recent lines the backend wrote to stdout and stderr, independent of the log level",
		Tags:        []string{"backend"},
		Security:    withAuth(),
		Errors:      []int{401, 422},
	}, func(_ context.Context, input *models.BackendOutputRequest) (*models.BackendOutputResponse, error) {
		lines := domainToAPIOutput(s.options.Output.Tail(input.Limit, input.Source))
		return &models.BackendOutputResponse{
			Body: models.BackendOutputData{
				Lines: lines,
				Count: len(lines),
			},
		}, nil
	})
}
