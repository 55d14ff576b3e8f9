package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDockerReachableWithUnreachableHost(t *testing.T) {
	t.Setenv("DOCKER_HOST", "unix:///nonexistent/pdf-processor/docker.sock")
	t.Setenv("TESTCONTAINERS_HOST_OVERRIDE", "")

	assert.NotPanics(t, func() {
		assert.False(t, dockerReachable())
	})
}
