package api

import (
	"net/http"

	"gamerent/services/rentals"
)

func (a *API) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	payment, err := a.svc.CreatePayment(ctx, rentals.PaymentInput{
		UserID:   req.User,
		GameID:   req.Game,
		RentalID: req.Rental,
		Amount:   *req.Amount,
		Kind:     req.Kind,
		Meta:     req.Meta,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	a.metrics.paymentRecorded(string(payment.Kind))

	respondJSON(w, http.StatusCreated, payment)
}

func (a *API) handleListPayments(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	list, err := a.svc.ListPayments(ctx)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (a *API) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "paymentId")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	payment, err := a.svc.GetPayment(ctx, id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, payment)
}

func (a *API) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "paymentId")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.svc.DeletePayment(ctx, id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Rental payment deleted successfully!"})
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "paymentId")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	payment, err := a.svc.GetPayment(ctx, id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	data := receiptData{
		PaymentID: payment.ID,
		Date:      payment.Date,
		UserID:    payment.UserID,
		GameID:    payment.GameID,
		RentalID:  payment.RentalID,
		Kind:      payment.Kind,
		Currency:  a.currency,
		Amount:    payment.Amount,
	}
	// the rental may be gone; the receipt still renders without it
	if state, err := a.svc.Remaining(ctx, payment.RentalID); err == nil {
		data.Rental = &receiptRental{Seconds: int64(state.Remaining), Status: state.Status}
	}

	out, err := a.renderer.Render("receipt.tmpl", data)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

func (a *API) handleExportPayments(w http.ResponseWriter, r *http.Request) {
	if a.exporter == nil {
		respondError(w, http.StatusServiceUnavailable, codeDisabled, "ledger export is not configured")
		return
	}

	result, err := a.exporter.Export(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
