package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelftestScenarios(t *testing.T) {
	assert.NoError(t, selftestRoundTrip())
	assert.NoError(t, selftestOutOfOrder())
	assert.NoError(t, selftestRedundant())
	assert.NoError(t, selftestCommand())
}
