package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersion(t *testing.T) {
	oldVersion, oldCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = oldVersion, oldCommit })

	Version, GitCommit = "1.4.0", "abcdef1234567890"
	assert.Equal(t, "1.4.0", GetVersion())

	Version = "dev"
	assert.Equal(t, "dev-abcdef12", GetVersion())

	info := GetBuildInfo()
	assert.Equal(t, Service, info.Service)
	assert.Equal(t, "abcdef1234567890", info.GitCommit)
	assert.Contains(t, GetFullVersion(), "pma-monitor dev-abcdef12")
}
