package services

import (
	"context"
	"errors"
	"io"
	"strings"

	"finary/internal/core"
	"finary/internal/events"
	"finary/internal/identity"
	"finary/internal/log"
)

// Messages shown to the user instead of raw failures.
const (
	MsgSignIn         = "Please sign in to access your personal financial advisor."
	MsgChatFailed     = "I'm having trouble analyzing your specific data right now. Please try again shortly."
	MsgEmptyQuestion  = "Please type a question first."
	MsgScanFailed     = "Scanning failed. Please try again."
	MsgVoiceFailed    = "Voice entry failed. Please try again."
	MsgScanSucceeded  = "Receipt scanned. Your dashboard is up to date."
	MsgVoiceSucceeded = "Voice entry recorded. Your dashboard is up to date."
)

// AI is the part of the AI backend the assistant drives.
type AI interface {
	Chat(ctx context.Context, ident identity.Identity, message string) (string, error)
	ScanReceipt(ctx context.Context, ident identity.Identity, filename string, file io.Reader) error
	VoiceEntry(ctx context.Context, ident identity.Identity, filename string, file io.Reader) error
}

// Reply is what the assistant shows back. Message is always safe to display.
type Reply struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// Assistant fronts chat, receipt scanning and voice entry. Backend failures
// are logged and replaced by friendly messages.
type Assistant struct {
	identity  identity.Provider
	ai        AI
	mutations *MutationService
}

func NewAssistant(provider identity.Provider, ai AI, mutations *MutationService) *Assistant {
	return &Assistant{identity: provider, ai: ai, mutations: mutations}
}

// Chat asks the financial advisor a question.
func (a *Assistant) Chat(ctx context.Context, message string) Reply {
	logger := log.FromContext(ctx).WithComponent(log.ComponentAI)

	ident, err := a.identity.Resolve(ctx)
	if err != nil {
		return Reply{Message: MsgSignIn, Kind: core.KindUnauthenticated}
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{Message: MsgEmptyQuestion, Kind: core.KindValidation}
	}

	answer, err := a.ai.Chat(ctx, ident, message)
	if err != nil {
		logger.ErrorContext(ctx, "Chat request failed",
			log.FieldOperation, log.OpChat,
			log.FieldUserID, ident.UserID,
			log.FieldError, err,
			log.FieldErrorKind, core.Kind(err))
		return Reply{Message: MsgChatFailed, Kind: core.Kind(err)}
	}
	return Reply{OK: true, Message: answer}
}

// ScanReceipt hands a receipt image to the backend, which records the
// transaction, then announces the change.
func (a *Assistant) ScanReceipt(ctx context.Context, filename string, file io.Reader) Reply {
	return a.ingest(ctx, log.OpScan, events.SourceScan, MsgScanSucceeded, MsgScanFailed, func(ident identity.Identity) error {
		return a.ai.ScanReceipt(ctx, ident, filename, file)
	})
}

// VoiceEntry hands a voice recording to the backend, then announces the change.
func (a *Assistant) VoiceEntry(ctx context.Context, filename string, file io.Reader) Reply {
	return a.ingest(ctx, log.OpVoice, events.SourceVoice, MsgVoiceSucceeded, MsgVoiceFailed, func(ident identity.Identity) error {
		return a.ai.VoiceEntry(ctx, ident, filename, file)
	})
}

func (a *Assistant) ingest(ctx context.Context, op, source, okMsg, failMsg string, upload func(identity.Identity) error) Reply {
	logger := log.FromContext(ctx).WithComponent(log.ComponentAI)

	ident, err := a.identity.Resolve(ctx)
	if err != nil {
		logger.WarnContext(ctx, "Upload rejected, not signed in", log.FieldOperation, op)
		return Reply{Message: failMsg, Kind: core.KindUnauthenticated}
	}

	if err := upload(ident); err != nil {
		logger.ErrorContext(ctx, "Upload failed",
			log.FieldOperation, op,
			log.FieldUserID, ident.UserID,
			log.FieldError, err,
			log.FieldErrorKind, core.Kind(err))
		return Reply{Message: failMsg, Kind: core.Kind(err)}
	}

	// Uploads proxied here are announced here, once. finary-notify is only
	// for writes that never pass through a server.
	if a.mutations != nil {
		if err := a.mutations.RecordExternalSuccess(ctx, source); err != nil && !errors.Is(err, core.ErrUnauthenticated) {
			logger.WarnContext(ctx, "Failed to announce upload", log.FieldOperation, op, log.FieldError, err)
		}
	}
	return Reply{OK: true, Message: okMsg}
}
