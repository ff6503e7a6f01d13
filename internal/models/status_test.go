package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_JSON(t *testing.T) {
	out, err := json.Marshal([]Status{StatusPassed, StatusFailed, StatusUnknown})
	require.NoError(t, err)
	assert.JSONEq(t, `[true,false,"unknown"]`, string(out))

	var back []Status
	require.NoError(t, json.Unmarshal([]byte(`[true,"false","unknown",null]`), &back))
	assert.Equal(t, []Status{StatusPassed, StatusFailed, StatusUnknown, StatusUnknown}, back)

	var s Status
	assert.Error(t, json.Unmarshal([]byte(`"maybe"`), &s))
}

func TestStatus_Known(t *testing.T) {
	assert.True(t, StatusPassed.Known())
	assert.True(t, StatusFailed.Known())
	assert.False(t, StatusUnknown.Known())
	assert.Equal(t, "Failed", StatusFailed.Label())
}
