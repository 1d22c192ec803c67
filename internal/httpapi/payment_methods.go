package httpapi

import (
	"net/http"

	"gozon/checkout-service/internal/auth"
	"gozon/checkout-service/internal/paymentmethod"
)

// methodView adds the display fields clients render for a saved card.
type methodView struct {
	paymentmethod.Method
	ExpDate      string `json:"exp_date"`
	MaskedNumber string `json:"masked_number"`
}

func viewOf(m *paymentmethod.Method) methodView {
	return methodView{Method: *m, ExpDate: m.ExpDate(), MaskedNumber: m.MaskedNumber()}
}

func (s *Server) listPaymentMethods(w http.ResponseWriter, r *http.Request) {
	p, err := auth.Require(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	methods, err := s.paymentMethods.List(r.Context(), p.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	views := make([]methodView, 0, len(methods))
	for i := range methods {
		views = append(views, viewOf(&methods[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{"payment_methods": views})
}

func (s *Server) addPaymentMethod(w http.ResponseWriter, r *http.Request) {
	p, err := auth.Require(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req paymentmethod.Draft
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := s.paymentMethods.Add(r.Context(), p.UserID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, viewOf(m))
}

func (s *Server) defaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	p, err := auth.Require(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	m, err := s.paymentMethods.Default(r.Context(), p.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(m))
}

func (s *Server) getPaymentMethod(w http.ResponseWriter, r *http.Request) {
	p, err := auth.Require(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	m, err := s.paymentMethods.Get(r.Context(), p.UserID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(m))
}

func (s *Server) updatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	p, err := auth.Require(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req paymentmethod.Update
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := s.paymentMethods.Update(r.Context(), p.UserID, id, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(m))
}

func (s *Server) setDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	p, err := auth.Require(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	m, err := s.paymentMethods.SetDefault(r.Context(), p.UserID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(m))
}

func (s *Server) deletePaymentMethod(w http.ResponseWriter, r *http.Request) {
	p, err := auth.Require(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := s.paymentMethods.Delete(r.Context(), p.UserID, id); err != nil {
		s.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
