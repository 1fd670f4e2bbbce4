package commands

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xaionaro-go/observability"
)

// getListener accepts "proto:addr" or a bare UNIX socket path.
func getListener(
	_ context.Context,
	addr string,
) (net.Listener, error) {
	parts := strings.SplitN(addr, ":", 2)
	if len(parts) == 1 {
		return net.Listen("unix", addr)
	}

	switch parts[0] {
	case "tcp", "tcp4", "tcp6", "unix", "unixpacket":
		return net.Listen(parts[0], parts[1])
	}
	return nil, fmt.Errorf("unsupported listener protocol '%s' in '%s'", parts[0], addr)
}

func serveMetrics(
	ctx context.Context,
	addr string,
	gatherer prometheus.Gatherer,
) error {
	listener, err := getListener(ctx, addr)
	if err != nil {
		return fmt.Errorf("unable to listen at '%s': %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}

	observability.Go(ctx, func(ctx context.Context) {
		<-ctx.Done()
		srv.Close()
	})
	observability.Go(ctx, func(ctx context.Context) {
		logger.Infof(ctx, "serving metrics at %s (%T)", listener.Addr(), listener)
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Errorf(ctx, "unable to serve metrics: %v", err)
		}
	})
	return nil
}
