package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"whisperd/internal/logging"
	"whisperd/internal/predict"
	"whisperd/internal/services"
)

func (s *Server) handleHealth(c *gin.Context) {
	state, err := s.State()
	resp := HealthResponse{Status: state, Setup: s.setup.Snapshot()}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePrediction(c *gin.Context) {
	started := time.Now().UTC()

	var req PredictionRequest
	bindErr := c.ShouldBindJSON(&req)

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	resp := PredictionResponse{ID: id, StartedAt: started}

	if bindErr != nil {
		err := services.Wrap(services.ErrInvalidArgument, "api", "decode", "request body must be {\"input\": {...}}", bindErr)
		fail(c, &resp, http.StatusUnprocessableEntity, err)
		return
	}

	switch state, setupErr := s.State(); state {
	case StateReady:
	case StateSetupFailed:
		fail(c, &resp, http.StatusServiceUnavailable, services.Wrap(services.ErrConfiguration, "api", "predict", "setup failed", setupErr))
		return
	default:
		fail(c, &resp, http.StatusServiceUnavailable, services.Wrap(services.ErrTransient, "api", "predict", "setup in progress", nil))
		return
	}

	// A client disconnect must not abandon inference mid-call; the engine
	// request timeout and server shutdown still bound it.
	ctx := services.WithPredictionID(context.WithoutCancel(c.Request.Context()), id)
	logger := logging.WithContext(ctx, s.logger)
	logger.Info("prediction started",
		logging.String(logging.FieldEventType, "prediction_started"),
		logging.String("audio", req.Input.Audio),
	)

	output, err := s.predictor.Predict(ctx, predict.Request{
		AudioPath: req.Input.Audio,
		Mode:      req.Input.Mode,
		Segments:  string(req.Input.Segments),
		Language:  req.Input.Language,
	})
	if err != nil {
		status := services.HTTPStatus(err)
		if status == http.StatusUnprocessableEntity {
			logger.Info("prediction rejected",
				logging.String(logging.FieldEventType, "prediction_rejected"),
				logging.Error(err),
			)
		} else {
			logging.ErrorWithContext(logger, "prediction failed", "prediction_failed",
				logging.String(logging.FieldErrorKind, services.Kind(err)),
				logging.Error(err),
			)
		}
		fail(c, &resp, status, err)
		return
	}

	resp.Status = StatusSucceeded
	resp.Output = output
	complete(&resp)
	c.JSON(http.StatusOK, resp)
}

func fail(c *gin.Context, resp *PredictionResponse, status int, err error) {
	resp.Status = StatusFailed
	resp.Error = err.Error()
	resp.ErrorKind = services.Kind(err)
	complete(resp)
	c.JSON(status, resp)
}

func complete(resp *PredictionResponse) {
	resp.CompletedAt = time.Now().UTC()
	resp.Metrics.PredictTime = resp.CompletedAt.Sub(resp.StartedAt).Seconds()
}
