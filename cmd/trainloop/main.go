// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/blobs"
	"k8s.io/examples/AI/trainloop/pkg/callbacks"
	"k8s.io/examples/AI/trainloop/pkg/checkpoint"
	"k8s.io/examples/AI/trainloop/pkg/config"
	"k8s.io/examples/AI/trainloop/pkg/engine/remote"
	"k8s.io/examples/AI/trainloop/pkg/graph"
	"k8s.io/examples/AI/trainloop/pkg/inputter"
	"k8s.io/examples/AI/trainloop/pkg/modeler/classification"
	"k8s.io/examples/AI/trainloop/pkg/runner"
	"k8s.io/examples/AI/trainloop/pkg/summary"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath     string
	mode           string
	engineAddr     string
	metricsListen  string
	predictionsOut string
}

func newCommand() *cobra.Command {
	opt := &options{
		engineAddr:     os.Getenv("TENSORSERVER"),
		predictionsOut: "predictions.csv",
	}

	cmd := &cobra.Command{
		Use:           "trainloop",
		Short:         "Train, evaluate or run inference with a classification model",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opt)
		},
	}

	goflags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(goflags)
	cmd.Flags().AddGoFlagSet(goflags)

	cmd.Flags().StringVar(&opt.configPath, "config", "trainloop.yaml", "run configuration file")
	cmd.Flags().StringVar(&opt.mode, "mode", "", "override the configured mode (train, eval or infer)")
	cmd.Flags().StringVar(&opt.engineAddr, "engine-addr", opt.engineAddr, "tensorserver address; empty runs the in-process engine")
	cmd.Flags().StringVar(&opt.metricsListen, "metrics-listen", "", "serve prometheus metrics on this address")
	cmd.Flags().StringVar(&opt.predictionsOut, "predictions-out", opt.predictionsOut, "where infer mode writes predictions")
	return cmd
}

func run(ctx context.Context, opt *options) error {
	log := klog.FromContext(ctx)

	cfg, err := config.Load(opt.configPath)
	if err != nil {
		return err
	}
	if opt.mode != "" {
		mode, err := runner.ParseMode(opt.mode)
		if err != nil {
			return err
		}
		cfg.Run.Mode = mode
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	mode := cfg.Run.Mode

	cache, err := buildBlobCache(cfg.Blobs)
	if err != nil {
		return err
	}
	dataset, err := inputter.Load(ctx, cfg.Dataset(), cache, cfg.Run.NumClasses, cfg.Run.DataFormat)
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}
	modeler, err := classification.New(cfg.Model)
	if err != nil {
		return err
	}

	store, closeStore, err := buildCheckpointStore(ctx, cfg.Checkpoint)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []runner.Option{runner.WithSaver(&checkpoint.Saver{Store: store})}
	cbs := []runner.Callback{
		callbacks.NewCheckpoint(mode, graph.Node{}, cfg.Checkpoint.Every),
		callbacks.NewLogger(mode),
		callbacks.NewMetrics(reg, mode),
	}

	if mode == runner.ModeTrain && cfg.Summary.Dir != "" {
		w, err := summary.Create(cfg.Summary.Dir)
		if err != nil {
			return err
		}
		defer w.Close()
		opts = append(opts, runner.WithSummaryWriter(w))
		cbs = append(cbs, callbacks.NewSummary(graph.Node{}, cfg.Summary.Every))
	}

	if mode == runner.ModeInfer {
		f, err := os.Create(opt.predictionsOut)
		if err != nil {
			return fmt.Errorf("creating predictions file: %w", err)
		}
		defer f.Close()
		cbs = append(cbs, callbacks.NewPredictions(f))
	}

	if opt.engineAddr != "" {
		conn, err := grpc.NewClient(opt.engineAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("connecting to tensorserver %q: %w", opt.engineAddr, err)
		}
		defer conn.Close()
		log.Info("using remote engine", "addr", opt.engineAddr)
		opts = append(opts, runner.WithEngine(remote.Engine{Client: api.NewBigCalculatorClient(conn)}))
	}

	opts = append(opts, runner.WithCallbacks(cbs...))
	r, err := runner.New(cfg.Run, dataset, modeler, opts...)
	if err != nil {
		return err
	}

	if opt.metricsListen == "" {
		return r.Run(ctx)
	}

	metricsServer := &http.Server{
		Addr:              opt.metricsListen,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("serving metrics", "listen", opt.metricsListen)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving metrics on %q: %w", opt.metricsListen, err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(shutdownCtx)
		}()
		return r.Run(gctx)
	})
	return g.Wait()
}

// buildBlobCache returns nil when no cache directory is configured.
func buildBlobCache(cfg config.Blobs) (*blobs.Cache, error) {
	if cfg.CacheDir == "" {
		return nil, nil
	}

	var upstream blobs.BlobReader
	switch {
	case cfg.Server != "":
		u, err := url.Parse(cfg.Server)
		if err != nil {
			return nil, fmt.Errorf("parsing blob server url %q: %w", cfg.Server, err)
		}
		upstream = &blobs.HTTPBlobReader{BlobserverURL: u}
	case cfg.Bucket != "":
		upstream = &blobs.GCSBlobstore{Bucket: cfg.Bucket, Prefix: cfg.Prefix}
	}
	if upstream != nil && cfg.MaxAttempts > 1 {
		upstream = &blobs.RetryingReader{Reader: upstream, MaxAttempts: cfg.MaxAttempts}
	}
	return &blobs.Cache{Dir: cfg.CacheDir, Upstream: upstream}, nil
}

func buildCheckpointStore(ctx context.Context, cfg config.Checkpoint) (checkpoint.Store, func(), error) {
	if cfg.Badger != nil {
		store, err := checkpoint.OpenBadgerStore(ctx, *cfg.Badger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				klog.FromContext(ctx).Error(err, "closing checkpoint store")
			}
		}, nil
	}

	store := &checkpoint.FileStore{Dir: cfg.Dir, Keep: cfg.Keep}
	if cfg.UploadBucket != "" {
		store.Upload = &blobs.GCSBlobstore{Bucket: cfg.UploadBucket, Prefix: cfg.UploadPrefix}
	}
	return store, func() {}, nil
}
