package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
)

var (
	dockerOnce sync.Once
	dockerOK   bool
)

// RequireDocker skips t in -short mode or when no Docker daemon answers.
func RequireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	dockerOnce.Do(func() { dockerOK = dockerReachable() })
	if !dockerOK {
		t.Skip("docker not available")
	}
}

// dockerReachable pings the daemon. Host discovery in testcontainers panics
// when it finds no socket at all, so that is treated as unavailable too.
func dockerReachable() (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.Client().Ping(ctx)
	return err == nil
}
