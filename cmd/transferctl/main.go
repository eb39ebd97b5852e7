package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	grpcadapter "mercato/internal/adapters/grpc"

	"github.com/urfave/cli/v3"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Version is set during build using ldflags
var Version = "dev"

type dialFunc func(addr string) (grpcpkg.ClientConnInterface, func() error, error)

func dialInsecure(addr string) (grpcpkg.ClientConnInterface, func() error, error) {
	conn, err := grpcpkg.NewClient(addr, grpcpkg.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return conn, conn.Close, nil
}

func main() {
	if err := newApp(os.Stdout, dialInsecure).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer, dial dialFunc) *cli.Command {
	addrFlag := &cli.StringFlag{
		Name:    "addr",
		Usage:   "Transfer service gRPC address",
		Aliases: []string{"a"},
		Value:   "localhost:50051",
		Sources: cli.EnvVars("TRANSFERCTL_ADDR"),
	}
	timeoutFlag := &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Deadline for the call",
		Value: 5 * time.Second,
	}

	return &cli.Command{
		Name:    "transferctl",
		Version: Version,
		Usage:   "Start and inspect player transfers",
		Writer:  out,
		Commands: []*cli.Command{
			{
				Name:  "submit",
				Usage: "Start a transfer saga",
				Flags: []cli.Flag{
					addrFlag,
					timeoutFlag,
					&cli.StringFlag{Name: "player", Usage: "Player id", Required: true},
					&cli.StringFlag{Name: "from", Usage: "Selling organization id", Required: true},
					&cli.StringFlag{Name: "to", Usage: "Buying organization id", Required: true},
					&cli.StringFlag{Name: "fee", Usage: "Transfer fee", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withClient(ctx, cmd, dial, func(ctx context.Context, client *grpcadapter.TransferServiceClient) (any, error) {
						return client.SubmitTransfer(ctx, &grpcadapter.SubmitTransferRequest{
							PlayerID:    cmd.String("player"),
							FromOrgID:   cmd.String("from"),
							ToOrgID:     cmd.String("to"),
							TransferFee: cmd.String("fee"),
						})
					})
				},
			},
			{
				Name:      "status",
				Usage:     "Show the current state of a transfer saga",
				ArgsUsage: "<saga-id>",
				Flags:     []cli.Flag{addrFlag, timeoutFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() < 1 {
						return fmt.Errorf("saga id required")
					}
					sagaID := cmd.Args().Get(0)
					return withClient(ctx, cmd, dial, func(ctx context.Context, client *grpcadapter.TransferServiceClient) (any, error) {
						return client.GetTransfer(ctx, &grpcadapter.GetTransferRequest{SagaID: sagaID})
					})
				},
			},
		},
	}
}

func withClient(ctx context.Context, cmd *cli.Command, dial dialFunc, call func(context.Context, *grpcadapter.TransferServiceClient) (any, error)) error {
	if t := cmd.Duration("timeout"); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	conn, closeConn, err := dial(cmd.String("addr"))
	if err != nil {
		return fmt.Errorf("dial %s: %w", cmd.String("addr"), err)
	}
	defer func() { _ = closeConn() }()

	resp, err := call(ctx, grpcadapter.NewTransferServiceClient(conn))
	if err != nil {
		if sagaID, ok := grpcadapter.SagaIDFromError(err); ok {
			return fmt.Errorf("transfer %s recorded but not dispatched, poll with status: %w", sagaID, err)
		}
		return err
	}

	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
