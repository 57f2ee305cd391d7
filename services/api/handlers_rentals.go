package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gamerent/services/rentals"
)

func (a *API) handleCreateRental(w http.ResponseWriter, r *http.Request) {
	var req createRentalRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rental, err := a.svc.CreateRental(ctx, req.input())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	a.metrics.rentalCreated(int64(rental.Time))

	respondJSON(w, http.StatusCreated, rentalResponse{Message: "Rental created successfully!", Rental: rental})
}

func (a *API) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rental, payment, err := a.svc.Purchase(ctx, req.input(), req.Meta)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	a.metrics.rentalCreated(int64(rental.Time))
	a.metrics.paymentRecorded(string(payment.Kind))

	respondJSON(w, http.StatusCreated, rentalResponse{Message: "Rental purchased successfully!", Rental: rental, Payment: &payment})
}

func (a *API) handleListRentals(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	list, err := a.svc.ListRentals(ctx)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (a *API) handleGetRental(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rental, err := a.svc.GetRental(ctx, id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rental)
}

func (a *API) handleRentalsByUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	list, err := a.svc.RentalsByUser(ctx, chi.URLParam(r, "userId"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (a *API) handleRentalsByGame(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	list, err := a.svc.RentalsByGame(ctx, chi.URLParam(r, "gameId"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (a *API) handleLatestRental(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rental, err := a.svc.LatestRental(ctx, chi.URLParam(r, "userId"), chi.URLParam(r, "gameId"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rental)
}

func (a *API) handleCheckExisting(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	exists, err := a.svc.CheckExisting(ctx, chi.URLParam(r, "userId"), chi.URLParam(r, "gameId"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, exists)
}

func (a *API) handleUpdateRental(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	var req updateRentalRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rental, err := a.svc.UpdateRental(ctx, id, *req.Time, *req.Price)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rental)
}

func (a *API) handleUpdateRentalTime(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	var req updateRentalTimeRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rental, err := a.svc.UpdateRentalTime(ctx, id, req.remaining(), req.Version)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rental)
}

func (a *API) handleExtend(w http.ResponseWriter, r *http.Request) {
	var req extendRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rental, payment, err := a.svc.Extend(ctx, rentals.ExtendInput{
		UserID:          chi.URLParam(r, "userId"),
		GameID:          chi.URLParam(r, "gameId"),
		AdditionalTime:  *req.AdditionalTime,
		AdditionalPrice: *req.AdditionalPrice,
		RecordPayment:   req.RecordPayment,
		PaymentMeta:     req.Meta,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	a.metrics.rentalExtended(int64(*req.AdditionalTime))
	if payment != nil {
		a.metrics.paymentRecorded(string(payment.Kind))
	}

	respondJSON(w, http.StatusOK, rentalResponse{Message: "Rental time extended successfully!", Rental: rental, Payment: payment})
}

func (a *API) handleCloseRental(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rental, err := a.svc.CloseRental(ctx, id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rentalResponse{Message: "Rental closed successfully!", Rental: rental})
}

func (a *API) handleDeleteRental(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.svc.DeleteRental(ctx, id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Rental deleted successfully!"})
}

func (a *API) handleSessionState(w http.ResponseWriter, r *http.Request) {
	a.session(w, r, a.svc.Remaining)
}

func (a *API) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	a.session(w, r, a.svc.StartSession)
}

func (a *API) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	a.session(w, r, a.svc.StopSession)
}

func (a *API) session(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (rentals.SessionState, error)) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	state, err := fn(ctx, id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}
