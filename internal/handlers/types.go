package handlers

type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Model     string `json:"model"`
	LoadError string `json:"load_error,omitempty"`
}

type PredictionResponse struct {
	Class int `json:"class"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	msgNoImage          = "No image sent"
	msgModelNotReady    = "Model not ready"
	msgPredictionFailed = "Prediction failed"
)
