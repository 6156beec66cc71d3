package errtypes_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syncagent/engine/internal/errtypes"
)

func TestNewWrapsSentinel(t *testing.T) {
	err := errtypes.New(errtypes.KindConflict, "docs/a.txt", "remote version is newer")

	assert.ErrorIs(t, err, errtypes.ErrConflict)
	assert.Contains(t, err.Error(), "docs/a.txt")
	assert.Contains(t, err.Error(), "remote version is newer")
}

func TestWrapPreservesSentinel(t *testing.T) {
	cause := errors.New("connection refused")
	err := errtypes.Wrap(errtypes.KindConnectivity, "", cause)

	assert.ErrorIs(t, err, errtypes.ErrConnectivity)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestClassifyRoundtripsThroughSyncError(t *testing.T) {
	err := errtypes.New(errtypes.KindIntegrity, "x", "hash mismatch")
	assert.Equal(t, errtypes.KindIntegrity, errtypes.Classify(err))
}

func TestClassifyPlainSentinel(t *testing.T) {
	assert.Equal(t, errtypes.KindFatal, errtypes.Classify(errtypes.ErrFatal))
}

func TestClassifyUnknownErrorIsUnknown(t *testing.T) {
	assert.Equal(t, errtypes.KindUnknown, errtypes.Classify(errors.New("boom")))
}

func TestClassifyNilIsUnknown(t *testing.T) {
	assert.Equal(t, errtypes.KindUnknown, errtypes.Classify(nil))
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := map[int]errtypes.Kind{
		http.StatusUnauthorized:        errtypes.KindAuthentication,
		http.StatusForbidden:           errtypes.KindAuthentication,
		http.StatusNotFound:            errtypes.KindNotFound,
		http.StatusGone:                errtypes.KindNotFound,
		http.StatusConflict:            errtypes.KindConflict,
		http.StatusBadRequest:          errtypes.KindValidation,
		http.StatusUnprocessableEntity: errtypes.KindValidation,
		http.StatusTooManyRequests:     errtypes.KindTransient,
		http.StatusInternalServerError: errtypes.KindTransient,
		http.StatusBadGateway:          errtypes.KindTransient,
		http.StatusOK:                  errtypes.KindUnknown,
	}

	for status, want := range cases {
		assert.Equal(t, want, errtypes.ClassifyHTTPStatus(status), "status %d", status)
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, errtypes.Retryable(errtypes.KindConnectivity))
	assert.True(t, errtypes.Retryable(errtypes.KindTransient))

	for _, k := range []errtypes.Kind{
		errtypes.KindValidation,
		errtypes.KindAuthentication,
		errtypes.KindConflict,
		errtypes.KindNotFound,
		errtypes.KindIntegrity,
		errtypes.KindCancelled,
		errtypes.KindFatal,
		errtypes.KindUnknown,
	} {
		assert.False(t, errtypes.Retryable(k), "kind %s should not be retryable", k)
	}
}
