// Package upload contains the handlers driving the upload lifecycle
package upload

import (
	"net/http"

	"openbroadcast/stream-api/internal/service"

	"go.uber.org/zap"
)

func statusFor(err error) int {
	switch service.KindOf(err) {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindDuplicate:
		return http.StatusConflict
	case service.KindRemote:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func logFailure(msg string, err error, id, requestID string) {
	fields := []zap.Field{
		zap.Error(err),
		zap.String("video_id", id),
		zap.String("requestID", requestID),
		zap.String("reason", string(service.ReasonOf(err))),
	}

	switch service.KindOf(err) {
	case service.KindValidation, service.KindNotFound, service.KindDuplicate:
		zap.L().Debug(msg, fields...)
	case service.KindRemote:
		zap.L().Warn(msg, fields...)
	default:
		zap.L().Error(msg, fields...)
	}
}
