package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"otp-service/internal/auth"
	"otp-service/internal/errors"
	"otp-service/internal/service"
)

const historyPageSize = 10

type RentalHandler struct {
	rentalService *service.RentalService
}

func NewRentalHandler(rentalService *service.RentalService) *RentalHandler {
	return &RentalHandler{
		rentalService: rentalService,
	}
}

type PurchaseRequest struct {
	Country  string `json:"country"`
	Operator string `json:"operator"`
	Product  string `json:"product"`
}

type CheckSMSResponse struct {
	Rental  RentalResponse `json:"rental"`
	HasSMS  bool           `json:"has_sms"`
	Expired bool           `json:"expired"`
}

type HistoryResponse struct {
	Rentals []RentalResponse `json:"rentals"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
	Total   int64            `json:"total"`
}

func (h *RentalHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, errors.ErrUnauthorized)
		return
	}

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body"))
		return
	}
	if req.Country == "" || req.Operator == "" || req.Product == "" {
		writeError(w, errors.NewAppError(errors.InvalidInput, "country, operator and product are required"))
		return
	}

	rental, err := h.rentalService.Purchase(r.Context(), userID, req.Country, req.Operator, req.Product)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRentalResponse(rental))
}

// Verify refreshes the rental from the provider before returning it, the
// way the original verification page loads.
func (h *RentalHandler) Verify(w http.ResponseWriter, r *http.Request) {
	userID, rentalID, ok := h.authedRentalID(w, r)
	if !ok {
		return
	}

	rental, err := h.rentalService.CheckStatus(r.Context(), userID, rentalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRentalResponse(rental))
}

func (h *RentalHandler) CheckSMS(w http.ResponseWriter, r *http.Request) {
	userID, rentalID, ok := h.authedRentalID(w, r)
	if !ok {
		return
	}

	rental, err := h.rentalService.CheckStatus(r.Context(), userID, rentalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CheckSMSResponse{
		Rental:  toRentalResponse(rental),
		HasSMS:  rental.HasSMS(),
		Expired: h.rentalService.Expired(rental),
	})
}

func (h *RentalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, rentalID, ok := h.authedRentalID(w, r)
	if !ok {
		return
	}

	rental, err := h.rentalService.Cancel(r.Context(), userID, rentalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRentalResponse(rental))
}

func (h *RentalHandler) Finish(w http.ResponseWriter, r *http.Request) {
	userID, rentalID, ok := h.authedRentalID(w, r)
	if !ok {
		return
	}

	rental, err := h.rentalService.Finish(r.Context(), userID, rentalID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRentalResponse(rental))
}

func (h *RentalHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, errors.ErrUnauthorized)
		return
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed < 1 {
			writeError(w, errors.NewAppError(errors.InvalidInput, "invalid page number"))
			return
		}
		page = parsed
	}

	rentals, total, err := h.rentalService.History(userID, page, historyPageSize)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Rentals: toRentalResponses(rentals),
		Page:    page,
		PerPage: historyPageSize,
		Total:   total,
	})
}

func (h *RentalHandler) authedRentalID(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, errors.ErrUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}

	rentalID, err := uuid.Parse(mux.Vars(r)["rental_id"])
	if err != nil {
		// Malformed ids get the same answer as unknown ones.
		writeError(w, errors.ErrRentalNotFound)
		return uuid.Nil, uuid.Nil, false
	}

	return userID, rentalID, true
}
