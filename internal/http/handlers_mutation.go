package http

import (
	"net/http"

	"finary/internal/services"
)

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var in services.TransactionInput
	if err := DecodeJSON(w, r, &in); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	res := s.deps.Mutations.AddTransaction(r.Context(), in)
	writeResult(w, res, http.StatusCreated)
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	var in services.BudgetInput
	if err := DecodeJSON(w, r, &in); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	res := s.deps.Mutations.SetBudget(r.Context(), in)
	writeResult(w, res, http.StatusOK)
}

// writeResult sends the whole Result so a failed form can stay open with its
// message shown.
func writeResult(w http.ResponseWriter, res services.Result, okStatus int) {
	status := okStatus
	if !res.OK {
		status = StatusForKind(res.Kind)
	}
	NewJSONResponse().Status(status).Body(res).Write(w)
}
