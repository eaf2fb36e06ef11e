package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crystfel-go/indexamajig/integration"
)

func validConfig() Config {
	c := Default()
	c.IndexingMethods = []string{"vectorsearch"}
	c.Integration.Radii = integration.Radii{Inner: 3, Mid: 4, Outer: 7}
	return c
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())
}

func TestValidate_RejectsZeroWorkers(t *testing.T) {
	c := validConfig()
	c.Workers = 0
	require.Error(t, c.Validate())
}

func TestValidate_RejectsNoIndexingMethods(t *testing.T) {
	c := validConfig()
	c.IndexingMethods = nil
	require.Error(t, c.Validate())
}

func TestValidate_RejectsDisorderedRadii(t *testing.T) {
	c := validConfig()
	c.Integration.Radii = integration.Radii{Inner: 5, Mid: 4, Outer: 7}
	require.Error(t, c.Validate())
}

func TestValidate_RejectsWaitForFileBelowMinusOne(t *testing.T) {
	c := validConfig()
	c.WaitForFile = -2
	require.Error(t, c.Validate())
}
