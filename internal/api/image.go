package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/SidGoyal2014/gah-final-submission/internal/generation"
)

// maxImageBody bounds the JSON body; base64 inflates images by a third.
const maxImageBody = 12 << 20

type analyzeImageRequest struct {
	Base64Image string `json:"base64image"`
}

// AnalyzeImage describes an uploaded farm photo. The reply is a JSON string.
func (h *Handler) AnalyzeImage(w http.ResponseWriter, r *http.Request) {
	if h.analyzer == nil {
		Error(w, http.StatusServiceUnavailable, "image analysis is not configured")
		return
	}

	var req analyzeImageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImageBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Base64Image) == "" {
		Error(w, http.StatusBadRequest, "missing 'base64image' field in JSON body")
		return
	}

	image, err := decodeImage(req.Base64Image)
	if err != nil {
		Error(w, http.StatusBadRequest, "base64image is not valid base64")
		return
	}
	mimeType := http.DetectContentType(image)
	if !strings.HasPrefix(mimeType, "image/") {
		Error(w, http.StatusUnsupportedMediaType, "base64image is not an image")
		return
	}

	text, err := h.analyzer.AnalyzeImage(r.Context(), image, mimeType)
	if err != nil {
		slog.Error("Image analysis failed", "error", err, "mime_type", mimeType, "bytes", len(image))
		if errors.Is(err, generation.ErrNoText) {
			Error(w, http.StatusBadGateway, "no analysis produced")
			return
		}
		Error(w, http.StatusBadGateway, "image analysis failed")
		return
	}
	JSON(w, http.StatusOK, text)
}

// decodeImage accepts raw base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
