package provider

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cleanup_worker/pkg/apperr"
	"cleanup_worker/pkg/resilience"

	"google.golang.org/api/googleapi"
)

// classifyError maps a Google API failure onto the remote error taxonomy.
// itemID is empty for listing calls.
func classifyError(service, itemID string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.IsAppError(err) {
		return err
	}
	if resilience.IsOpen(err) {
		return apperr.TransientRemote(service, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone:
			return apperr.PermanentRemote(service, itemID, err)
		case apiErr.Code == http.StatusTooManyRequests:
			return apperr.RateLimited(service, retryAfter(apiErr.Header), err)
		case apiErr.Code == http.StatusForbidden && isQuotaError(apiErr):
			return apperr.RateLimited(service, retryAfter(apiErr.Header), err)
		case apiErr.Code >= 500:
			return apperr.TransientRemote(service, err)
		case apiErr.Code >= 400:
			return apperr.RemoteRejected(service, apiErr.Code, err)
		}
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	// Network failures and deadline overruns are worth another attempt.
	return apperr.TransientRemote(service, err)
}

// tripsBreaker reports whether err signals service trouble rather than a bad request.
func tripsBreaker(err error) bool {
	if apperr.IsAppError(err) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500 || apiErr.Code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

func isQuotaError(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}

func retryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
