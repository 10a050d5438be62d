//go:build linux || darwin || freebsd || netbsd || openbsd

package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListen_SharesPort(t *testing.T) {
	ctx := context.Background()

	first, err := Listen(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	defer first.Close()

	second, err := Listen(ctx, first.Addr().String())
	require.NoError(t, err, "a second worker binds the same address")
	defer second.Close()

	assert.Equal(t, first.Addr().String(), second.Addr().String())
}
