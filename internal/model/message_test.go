package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sync/internal/model"
)

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		from, to model.Status
		want     bool
	}{
		{model.StatusNew, model.StatusHandled, true},
		{model.StatusNew, model.StatusSkippedAuto, true},
		{model.StatusNew, model.StatusError, true},
		{model.StatusNew, model.StatusNew, false},
		{model.StatusHandled, model.StatusNew, false},
		{model.StatusSkippedAuto, model.StatusHandled, false},
		{model.StatusError, model.StatusNew, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, model.CanAdvance(tt.from, tt.to))
		})
	}
}

func TestImportance_ScanAndValue(t *testing.T) {
	var imp model.Importance

	require.NoError(t, imp.Scan(nil))
	assert.False(t, imp.Known())

	require.NoError(t, imp.Scan(int64(1)))
	assert.Equal(t, model.ImportanceTrue, imp)

	require.NoError(t, imp.Scan(int64(0)))
	assert.Equal(t, model.ImportanceFalse, imp)

	assert.Error(t, imp.Scan("yes"))

	v, err := model.ImportanceUnknown.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = model.ImportanceTrue.Value()
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestParseIntent(t *testing.T) {
	in, ok := model.ParseIntent("price_question")
	assert.True(t, ok)
	assert.Equal(t, model.IntentPriceQuestion, in)

	_, ok = model.ParseIntent("spam")
	assert.False(t, ok)
}
