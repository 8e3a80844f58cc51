package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFallsBackToInfo(t *testing.T) {
	logger := New("not-a-level", "json")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestLogErrorWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput("debug", "json", &buf)

	LogError(logger, "service", "RecordSale", "create sale", map[string]string{"invoice": "INV-1"}, errors.New("boom"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "boom", line["msg"])
	assert.Equal(t, "service", line["module"])
	assert.Equal(t, "RecordSale", line["funcName"])
	assert.Contains(t, line, "data")
}
