// assets.go — HTTP handler выдачи загруженных изображений.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/userstore/internal/api/errors"
	"github.com/bigkaa/userstore/internal/service"
)

// AssetsHandler — обработчик endpoint изображений.
type AssetsHandler struct {
	svc *service.AssetService
}

// NewAssetsHandler создаёт обработчик изображений.
func NewAssetsHandler(svc *service.AssetService) *AssetsHandler {
	return &AssetsHandler{svc: svc}
}

// ServeAsset обрабатывает GET /uploads/{name}.
// Поддерживает Range requests (206) и ETag (If-None-Match → 304).
func (h *AssetsHandler) ServeAsset(w http.ResponseWriter, r *http.Request) {
	if aerr := h.svc.Serve(w, r, chi.URLParam(r, "name")); aerr != nil {
		errors.WriteError(w, aerr.StatusCode, aerr.Code, aerr.Message)
	}
}
