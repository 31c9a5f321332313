package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"otp-service/internal/domain"
	"otp-service/internal/errors"
)

type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := Response{Data: data}
	json.NewEncoder(w).Encode(response)
}

func writeError(w http.ResponseWriter, appErr *errors.AppError) {
	w.Header().Set("Content-Type", "application/json")

	statusCode := appErr.HTTPStatus()
	errResponse := Error{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Details: appErr.Details,
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{Error: &errResponse})
}

// writeServiceError keeps raw internals out of responses: anything that is
// not an AppError becomes a generic internal failure.
func writeServiceError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		writeError(w, appErr)
		return
	}
	writeError(w, errors.NewAppError(errors.InternalError, "an unexpected error occurred"))
}

// RentalResponse is the wire form of a rental.
type RentalResponse struct {
	ID            string     `json:"id"`
	ProviderID    string     `json:"provider_id"`
	PhoneNumber   string     `json:"phone_number"`
	Country       string     `json:"country"`
	Operator      string     `json:"operator"`
	Service       string     `json:"service"`
	Price         string     `json:"price"`
	Status        string     `json:"status"`
	ExpiresAt     time.Time  `json:"expires_at"`
	SMSText       *string    `json:"sms_text"`
	SMSReceivedAt *time.Time `json:"sms_received_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toRentalResponse(rental *domain.PhoneRental) RentalResponse {
	return RentalResponse{
		ID:            rental.ID.String(),
		ProviderID:    rental.ProviderID,
		PhoneNumber:   rental.PhoneNumber,
		Country:       rental.Country,
		Operator:      rental.Operator,
		Service:       rental.Service,
		Price:         rental.Price.String(),
		Status:        rental.Status,
		ExpiresAt:     rental.ExpiresAt,
		SMSText:       rental.SMSText,
		SMSReceivedAt: rental.SMSReceivedAt,
		CreatedAt:     rental.CreatedAt,
	}
}

func toRentalResponses(rentals []domain.PhoneRental) []RentalResponse {
	out := make([]RentalResponse, 0, len(rentals))
	for i := range rentals {
		out = append(out, toRentalResponse(&rentals[i]))
	}
	return out
}
