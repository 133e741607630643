package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/engine/fallback"
	"k8s.io/examples/AI/trainloop/pkg/engine/remote"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	listen := ":9876"
	metricsListen := ""

	klog.InitFlags(nil)
	flag.StringVar(&listen, "listen", listen, "grpc listen address")
	flag.StringVar(&metricsListen, "metrics-listen", metricsListen, "serve prometheus metrics on this address")
	flag.Parse()

	log := klog.FromContext(ctx)
	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", listen, err)
	}

	grpcServer := grpc.NewServer()
	calcServer := remote.NewServer(fallback.Engine{})
	api.RegisterBigCalculatorServer(grpcServer, calcServer)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tensorserver",
		Name:      "sessions",
		Help:      "Open engine sessions.",
	}, func() float64 { return float64(calcServer.NumSessions()) }))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting tensorserver", "listen", listen)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("serving GRPC: %w", err)
		}
		return nil
	})

	var metricsServer *http.Server
	if metricsListen != "" {
		metricsServer = &http.Server{
			Addr:              metricsListen,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info("serving metrics", "listen", metricsListen)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving metrics on %q: %w", metricsListen, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down tensorserver")
		grpcServer.GracefulStop()
		calcServer.Shutdown()
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}
