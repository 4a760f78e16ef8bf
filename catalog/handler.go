package catalog

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/vitwit/healthpay/logger"
	"github.com/vitwit/healthpay/metrics"
	"github.com/vitwit/healthpay/types"
)

// Envelope wraps every catalog response.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// planDTO and medicationDTO render prices as JSON numbers.
type planDTO struct {
	ID           int         `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	BasePriceEth json.Number `json:"basePriceEth"`
	Benefits     []string    `json:"benefits"`
}

type medicationDTO struct {
	ID          int         `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	PriceEth    json.Number `json:"priceEth"`
}

func toPlanDTO(p types.InsurancePlan) planDTO {
	return planDTO{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		BasePriceEth: json.Number(p.BasePriceEth.String()),
		Benefits:     p.Benefits,
	}
}

func toMedicationDTO(m types.Medication) medicationDTO {
	return medicationDTO{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Category:    m.Category,
		PriceEth:    json.Number(m.PriceEth.String()),
	}
}

// Handler serves the catalog over HTTP.
type Handler struct {
	catalog *Catalog
	logger  logger.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

func NewHandler(c *Catalog, l logger.Logger, m metrics.Recorder) *Handler {
	return &Handler{
		catalog: c,
		logger:  logger.OrNoop(l),
		metrics: metrics.OrNoop(m),
		now:     time.Now,
	}
}

// Routes mounts the catalog endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.logRequests)
		r.Get("/insurance", h.listPlans)
		r.Get("/insurance/{id}", h.getPlan)
		r.Get("/medications", h.listMedications)
		r.Get("/medications/{id}", h.getMedication)
		r.Get("/categories", h.listCategories)
	})
}

// NewRouter returns a router serving only the catalog.
func NewRouter(c *Catalog, l logger.Logger, m metrics.Recorder) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.Recoverer)
	NewHandler(c, l, m).Routes(r)
	return r
}

func (h *Handler) listPlans(w http.ResponseWriter, _ *http.Request) {
	plans := h.catalog.Plans()
	out := make([]planDTO, len(plans))
	for i, p := range plans {
		out[i] = toPlanDTO(p)
	}
	h.writeSuccess(w, out)
}

func (h *Handler) getPlan(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid plan id")
		return
	}
	p, ok := h.catalog.Plan(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "plan not found")
		return
	}
	h.writeSuccess(w, toPlanDTO(p))
}

func (h *Handler) listMedications(w http.ResponseWriter, r *http.Request) {
	meds := h.catalog.MedicationsByCategory(r.URL.Query().Get("category"))
	out := make([]medicationDTO, len(meds))
	for i, m := range meds {
		out[i] = toMedicationDTO(m)
	}
	h.writeSuccess(w, out)
}

func (h *Handler) getMedication(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid medication id")
		return
	}
	m, ok := h.catalog.Medication(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "medication not found")
		return
	}
	h.writeSuccess(w, toMedicationDTO(m))
}

func (h *Handler) listCategories(w http.ResponseWriter, _ *http.Request) {
	h.writeSuccess(w, h.catalog.Categories())
}

func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data, Timestamp: h.timestamp()})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, Envelope{Success: false, Error: msg, Timestamp: h.timestamp()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", logger.WithErr(nil, err))
	}
}

func (h *Handler) timestamp() string {
	return h.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.IncCounter(metrics.EventCatalogRequest, nil)
		h.logger.Info("catalog request", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"query":       r.URL.RawQuery,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  chimw.GetReqID(r.Context()),
		})
	})
}
