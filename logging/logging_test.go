package logging_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricemill/stock-ledger/logging"
)

func TestNew_Defaults(t *testing.T) {
	logger, err := logging.New(logging.Config{})

	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestNew_RejectsUnknownSettings(t *testing.T) {
	_, err := logging.New(logging.Config{Level: "loud"})
	assert.Error(t, err)

	_, err = logging.New(logging.Config{Format: "xml"})
	assert.Error(t, err)
}

func TestLogError_WritesContextFields(t *testing.T) {
	// GIVEN: A JSON logger writing to a buffer
	var buf bytes.Buffer
	logger, err := logging.New(logging.Config{Level: "debug", Output: &buf})
	require.NoError(t, err)

	// WHEN: Logging an error with data
	logging.LogError(logger, "api", "CreateInvoice", "decode body", map[string]string{"kind": "sale"}, errors.New("unexpected EOF"))

	// THEN: All fields appear in the entry
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "unexpected EOF", entry["msg"])
	assert.Equal(t, "api", entry["module"])
	assert.Equal(t, "CreateInvoice", entry["funcName"])
	assert.Equal(t, "decode body", entry["context"])
	assert.NotNil(t, entry["data"])
}
