package handlers

import (
	"errors"
	"net/http"

	"github.com/Brownie44l1/teachable-api/internal/classify"
	"github.com/Brownie44l1/teachable-api/internal/middleware"
	"github.com/Brownie44l1/teachable-api/internal/model"
	"github.com/Brownie44l1/teachable-api/internal/upload"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Classifier interface {
	Classify(raw []byte) (classify.Result, error)
}

type StateReporter interface {
	State() model.State
	Err() error
}

type Handler struct {
	classifier   Classifier
	models       StateReporter
	readyMessage string
	log          *zap.Logger
}

func NewHandler(classifier Classifier, models StateReporter, readyMessage string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		classifier:   classifier,
		models:       models,
		readyMessage: readyMessage,
		log:          log,
	}
}

// Root answers regardless of model state.
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: "OK", Message: h.readyMessage})
}

// Health reports the model state; a failed load includes its error.
func (h *Handler) Health(c *gin.Context) {
	res := HealthResponse{Status: "OK", Model: h.models.State().String()}
	if err := h.models.Err(); err != nil {
		res.LoadError = err.Error()
	}
	c.JSON(http.StatusOK, res)
}

// Predict classifies the uploaded image. The upload is checked before model
// readiness so a missing file is always a client error.
func (h *Handler) Predict(c *gin.Context) {
	file, ok := upload.FromContext(c)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgNoImage})
		return
	}

	result, err := h.classifier.Classify(file.Data)
	switch {
	case errors.Is(err, classify.ErrModelNotReady):
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msgModelNotReady})
		return
	case err != nil:
		h.log.Error("prediction failed",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("filename", file.Name),
			zap.String("content_type", file.ContentType),
			zap.Int("size", len(file.Data)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msgPredictionFailed})
		return
	}

	h.log.Debug("prediction",
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.Int("class", result.Class),
		zap.Int("size", len(file.Data)))

	c.JSON(http.StatusOK, PredictionResponse{Class: result.Class})
}
