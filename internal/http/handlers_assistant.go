package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"finary/internal/core"
	"finary/internal/log"
	"finary/internal/services"
)

const msgAttachFile = "Please attach a file."

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Answer string `json:"answer"`
	OK     bool   `json:"ok"`
	Kind   string `json:"kind,omitempty"`
}

// handleChat always answers 200: failures come back as displayable text.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	reply := s.deps.Assistant.Chat(r.Context(), req.Message)
	NewJSONResponse().Body(chatResponse{Answer: reply.Message, OK: reply.OK, Kind: reply.Kind}).Write(w)
}

func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, s.deps.Assistant.ScanReceipt)
}

func (s *Server) handleVoiceEntry(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, s.deps.Assistant.VoiceEntry)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, ingest func(ctx context.Context, filename string, file io.Reader) services.Reply) {
	upload, err := ParseUpload(w, r)
	if err != nil {
		log.FromContext(r.Context()).WithComponent(log.ComponentHTTP).WarnContext(r.Context(), "Rejected upload",
			log.FieldPath, r.URL.Path,
			log.FieldError, err)
		msg := msgAttachFile
		if !errors.Is(err, errMissingFile) {
			msg = err.Error()
		}
		NewJSONResponse().
			Status(http.StatusUnprocessableEntity).
			Body(services.Reply{Message: msg, Kind: core.KindValidation}).
			Write(w)
		return
	}
	defer upload.File.Close()

	reply := ingest(r.Context(), upload.Filename, upload.File)
	NewJSONResponse().Status(StatusForKind(reply.Kind)).Body(reply).Write(w)
}
