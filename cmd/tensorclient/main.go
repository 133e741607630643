package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
)

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run sends a one-shot RMSNorm calculation, which is enough to check a
// tensorserver is up and computing.
func run(ctx context.Context) error {
	serverAddr := "127.0.0.1:9876"
	values := "1,2,3"

	klog.InitFlags(nil)
	flag.StringVar(&serverAddr, "server", serverAddr, "tensorserver address")
	flag.StringVar(&values, "values", values, "comma separated input vector")
	flag.Parse()

	log := klog.FromContext(ctx)

	input, err := parseVector(values)
	if err != nil {
		return err
	}

	conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to server %q: %w", serverAddr, err)
	}
	defer conn.Close()
	client := api.NewBigCalculatorClient(conn)

	log.Info("Starting tensorclient", "server", serverAddr)

	request := &api.CalculateRequest{
		Tensors: []*api.Tensor{
			{Id: 1, InlineData: input},
			{Id: 2, Computation: &api.TensorOperation{RmsNorm: &api.RMSNorm{Source: 1}}},
		},
		OutputTensors: []int32{2},
	}
	response, err := client.Calculate(ctx, request)
	if err != nil {
		return fmt.Errorf("calculating: %w", err)
	}
	for _, result := range response.Results {
		fmt.Printf("%d: %v\n", result.GetId(), result.GetInlineData())
	}
	return nil
}

func parseVector(s string) (*api.InlineData, error) {
	var values []float32
	for _, field := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", field, err)
		}
		values = append(values, float32(v))
	}
	return &api.InlineData{Dimensions: []int32{int32(len(values))}, Values: values}, nil
}
