package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goosewin/cellfill/internal/core"
)

func TestReporterTracksRows(t *testing.T) {
	var out bytes.Buffer
	reporter := New(&out)
	callback := reporter.Callback()

	callback(core.RowUpdate{Row: 4, Index: 1, Total: 3, Status: core.RowDone})
	callback(core.RowUpdate{Row: 5, Index: 2, Total: 3, Status: core.RowDone, Failures: 2})
	assert.Equal(t, 2, reporter.Done())
	assert.Equal(t, 2, reporter.Failures())

	callback(core.RowUpdate{Row: 6, Index: 3, Total: 3, Status: core.RowEmpty})
	assert.Equal(t, 3, reporter.Done())

	require.NoError(t, reporter.Finish())
	assert.NotEmpty(t, out.String())
}

func TestReporterWithoutRows(t *testing.T) {
	var out bytes.Buffer
	reporter := New(&out)

	assert.Zero(t, reporter.Done())
	require.NoError(t, reporter.Finish())
	assert.Empty(t, out.String())
}
