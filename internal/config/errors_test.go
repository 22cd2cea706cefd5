package config

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	withField := NewErrorWithField(ErrorTypeValidation, "INFLUXDB_ADDR", "is required", "")
	assert.Equal(t, "config validation_error: INFLUXDB_ADDR is required", withField.Error())
	assert.Nil(t, errors.Unwrap(withField))

	withCause := NewErrorWithCause(ErrorTypeFile, "", "failed to read env file .env", os.ErrNotExist)
	assert.Equal(t, "config file_error: failed to read env file .env: "+os.ErrNotExist.Error(), withCause.Error())
	assert.ErrorIs(t, withCause, os.ErrNotExist)

	var cfgErr *Error
	assert.True(t, errors.As(error(withField), &cfgErr))
	assert.Equal(t, "INFLUXDB_ADDR", cfgErr.Field)
}
