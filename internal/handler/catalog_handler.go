package handler

import (
	"encoding/json"
	"net/http"

	"otp-service/internal/auth"
	"otp-service/internal/errors"
	"otp-service/internal/service"
)

type CatalogHandler struct {
	rentalService *service.RentalService
}

func NewCatalogHandler(rentalService *service.RentalService) *CatalogHandler {
	return &CatalogHandler{
		rentalService: rentalService,
	}
}

type CountriesResponse struct {
	Countries map[string]string `json:"countries"`
	Rentals   []RentalResponse  `json:"rentals"`
}

type ProductsRequest struct {
	Country  string `json:"country"`
	Operator string `json:"operator"`
}

type PricesRequest struct {
	Country string `json:"country"`
	Product string `json:"product"`
}

// Countries serves the number-selection page data: the country catalog
// (static fallback when the provider is down) plus the caller's active
// rentals.
func (h *CatalogHandler) Countries(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, errors.ErrUnauthorized)
		return
	}

	rentals, err := h.rentalService.ActiveRentals(userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CountriesResponse{
		Countries: h.rentalService.Countries(r.Context()),
		Rentals:   toRentalResponses(rentals),
	})
}

func (h *CatalogHandler) Products(w http.ResponseWriter, r *http.Request) {
	var req ProductsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body"))
		return
	}
	if req.Country == "" {
		writeError(w, errors.NewAppError(errors.InvalidInput, "country is required"))
		return
	}

	products, err := h.rentalService.Products(r.Context(), req.Country, req.Operator)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, products)
}

func (h *CatalogHandler) Prices(w http.ResponseWriter, r *http.Request) {
	var req PricesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body"))
		return
	}
	if req.Country == "" || req.Product == "" {
		writeError(w, errors.NewAppError(errors.InvalidInput, "country and product are required"))
		return
	}

	prices, err := h.rentalService.Prices(r.Context(), req.Country, req.Product)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, prices)
}
