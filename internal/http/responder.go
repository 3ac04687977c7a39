package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/example/negotiation-scheduler/internal/logging"
	"github.com/example/negotiation-scheduler/internal/negotiation"
	"github.com/example/negotiation-scheduler/internal/persistence"
)

var (
	errBadRequestBody      = errors.New("無効なリクエスト形式です。")
	errInvalidSessionID    = errors.New("無効なセッション ID です。")
	errInvalidParticipant  = errors.New("無効な参加者 ID です。")
	errInvalidTimeRange    = errors.New("期間の指定が正しくありません。")
	errMissingSlotIndex    = errors.New("slot_index を指定してください。")
	errUnsupportedTopic    = errors.New("未対応のトピックです。")
	errStorageNotAvailable = errors.New("ストレージに接続できません。")
)

// retryAfterSeconds is advertised on 503 responses for retryable faults.
const retryAfterSeconds = 1

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := localizedStatusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	kind := negotiation.ErrorKind(err)
	switch {
	case negotiation.IsRetryable(err):
		r.loggerFor(ctx).WarnContext(ctx, "retryable failure", "error_kind", kind, "error", err)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{
			ErrorCode: kind,
			Message:   "一時的に処理できません。しばらくしてから再試行してください。",
			Retryable: true,
		})
	case errors.Is(err, negotiation.ErrSessionNotFound), errors.Is(err, persistence.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: kind, Message: "指定されたリソースが見つかりません。"})
	case errors.Is(err, negotiation.ErrSessionClosed):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: kind, Message: "このセッションは既に終了しています。"})
	case errors.Is(err, persistence.ErrDuplicate), errors.Is(err, persistence.ErrConstraintViolation), errors.Is(err, persistence.ErrForeignKeyViolation):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{Message: "入力内容に誤りがあります。", Errors: map[string]string{"_": err.Error()}})
	default:
		var vErr *negotiation.ValidationError
		if errors.As(err, &vErr) {
			details := localizeValidationErrors(vErr)
			r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
				ErrorCode: kind,
				Message:   "入力内容に誤りがあります。",
				Errors:    details,
			})
			return
		}

		r.loggerFor(ctx).ErrorContext(ctx, "unexpected failure", "error_kind", kind, "error", err)
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{ErrorCode: kind, Message: "サーバー内部でエラーが発生しました。"})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	return logging.Resolve(ctx, r.logger)
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	case http.StatusUnprocessableEntity:
		return "入力内容に誤りがあります。"
	case http.StatusServiceUnavailable:
		return "一時的に処理できません。しばらくしてから再試行してください。"
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

func localizeValidationErrors(vErr *negotiation.ValidationError) map[string]string {
	if vErr == nil || len(vErr.FieldErrors) == 0 {
		return nil
	}

	translated := make(map[string]string, len(vErr.FieldErrors))
	for field, msg := range vErr.FieldErrors {
		translated[field] = translateValidationMessage(msg)
	}
	return translated
}

func translateValidationMessage(message string) string {
	switch message {
	case "title is required":
		return "タイトルは必須です。"
	case "duration must be positive":
		return "所要時間は正の整数で指定してください。"
	case "duration must not exceed one day":
		return "所要時間は 1 日以内で指定してください。"
	case "must use YYYY-MM-DD format":
		return "日付は YYYY-MM-DD 形式で指定してください。"
	case "must use HH:MM format":
		return "時刻は HH:MM 形式で指定してください。"
	case "participant ids must not be blank":
		return "参加者 ID に空の値は指定できません。"
	case "no active participants to schedule":
		return "有効な参加者が登録されていません。"
	case "session was negotiated for a different request":
		return "セッションが別のリクエストに対応しています。"
	default:
		if strings.HasPrefix(message, "unknown participants:") {
			return "存在しない参加者 ID が含まれています: " + strings.TrimSpace(strings.TrimPrefix(message, "unknown participants:"))
		}
		if strings.HasPrefix(message, "title must be") {
			return "タイトルが長すぎます。"
		}
		return message
	}
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
}
