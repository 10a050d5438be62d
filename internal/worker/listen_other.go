//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package worker

import (
	"context"
	"net"
)

// Listen opens a plain TCP listener. Without SO_REUSEPORT only one worker
// can hold the port; run with --workers=1 on these platforms.
func Listen(ctx context.Context, address string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", address)
}
