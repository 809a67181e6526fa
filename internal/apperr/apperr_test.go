package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExternalServiceErrorMatchesTechnicalError(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := NewExternalServiceError("billing-api", cause)

	var technical *TechnicalError
	assert.True(t, errors.As(err, &technical), "ExternalServiceError must classify as TechnicalError")
	assert.ErrorIs(t, err, cause)
}

func TestModelAndBusinessErrorsDoNotMatchTechnical(t *testing.T) {
	modelErr := NewModelError("bad_shape", errors.New("missing field"))
	businessErr := NewBusinessError("duplicate", "already exists")

	var technical *TechnicalError
	assert.False(t, errors.As(error(modelErr), &technical))
	assert.False(t, errors.As(error(businessErr), &technical))
}
