package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/entityindex/pkg/types"
)

func TestTable(t *testing.T) {
	table, err := Table(types.CategoryDevice)
	require.NoError(t, err)
	assert.Equal(t, "devices", table)

	_, err = Table(types.Category("devices"))
	assert.ErrorIs(t, err, types.ErrUnknownCategory)
}

func TestCheckLimit(t *testing.T) {
	n, err := CheckLimit(10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = CheckLimit(MaxScanLimit * 2)
	require.NoError(t, err)
	assert.Equal(t, MaxScanLimit, n)

	_, err = CheckLimit(0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = CheckLimit(-1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCheckRecord(t *testing.T) {
	ok := types.IndexRecord{ID: 1, Embedding: []float32{1}, Data: []byte(`{"id":1}`)}
	assert.NoError(t, CheckRecord(ok))

	noVec := ok
	noVec.Embedding = nil
	assert.ErrorIs(t, CheckRecord(noVec), ErrInvalidInput)

	noData := ok
	noData.Data = nil
	assert.ErrorIs(t, CheckRecord(noData), ErrInvalidInput)
}
