package http

import (
	"net/http"

	"finary/internal/export"
	"finary/internal/identity"
	"finary/internal/log"
)

const kindNotConfigured = "not_configured"

// handleExportCSV downloads the transactions currently shown on the dashboard.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident, ok := identity.FromContext(ctx)
	if !ok {
		UnauthorizedError().Write(w)
		return
	}

	sess := s.deps.Sessions.Session(ident)
	if err := sess.EnsureLoaded(ctx); err != nil {
		log.FromContext(ctx).WithComponent(log.ComponentExport).WarnContext(ctx, "Export uses last loaded data", log.FieldError, err)
	}
	txs := sess.Transactions()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(s.now())+`"`)
	if err := export.WriteCSV(w, txs); err != nil {
		// Headers are gone; all that is left is to log.
		log.FromContext(ctx).WithComponent(log.ComponentExport).ErrorContext(ctx, "CSV export failed", log.FieldError, err)
		return
	}
	log.FromContext(ctx).WithComponent(log.ComponentExport).InfoContext(ctx, "CSV exported",
		log.FieldOperation, log.OpExport,
		"rows", len(txs))
}

func (s *Server) handleExportSheets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.deps.Sheets == nil {
		ErrorResponse(http.StatusNotImplemented, "Google Sheets export is not configured", kindNotConfigured).Write(w)
		return
	}
	ident, ok := identity.FromContext(ctx)
	if !ok {
		UnauthorizedError().Write(w)
		return
	}

	sess := s.deps.Sessions.Session(ident)
	if err := sess.EnsureLoaded(ctx); err != nil {
		log.FromContext(ctx).WithComponent(log.ComponentExport).WarnContext(ctx, "Export uses last loaded data", log.FieldError, err)
	}

	res, err := s.deps.Sheets.Export(ctx, ident.UserID, sess.Transactions())
	if err != nil {
		log.FromContext(ctx).WithComponent(log.ComponentExport).ErrorContext(ctx, "Sheets export failed", log.FieldError, err)
		ErrorFrom(err).Write(w)
		return
	}
	NewJSONResponse().Body(res).Write(w)
}
