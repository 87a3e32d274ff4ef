// cmd/kvcli is the CLI entry-point built with Cobra.
//
// Usage:
//
//	kvcli set mykey "hello world"  --gateway http://localhost:9000
//	kvcli get mykey                --gateway http://localhost:9000
//	kvcli status                   --gateway http://localhost:9000
//	kvcli ring                      --gateway http://localhost:9000
//
// Grounded on the teacher's cmd/client/main.go (Cobra root + persistent
// --server/--timeout flags, one subcommand per SDK method, prettyPrint
// helper), with put/get/delete/cluster replaced by set/get/status/ring to
// match the gateway's public API (spec.md §6); there is no delete
// operation in this store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"clusterkv/internal/client"
)

var (
	gatewayAddr string
	clientID    string
	timeout     time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "kvcli",
		Short: "CLI client for the clusterkv gateway",
	}

	root.PersistentFlags().StringVarP(&gatewayAddr, "gateway", "g",
		"http://localhost:9000", "Gateway address")
	root.PersistentFlags().StringVar(&clientID, "client-id", "",
		"X-Client-ID to send (default: a random uuid, stable across retries of one command)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(setCmd(), getCmd(), statusCmd(), ringCmd(), nodesCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient() *client.Client {
	id := clientID
	if id == "" {
		id = uuid.NewString()
	}
	return client.New(gatewayAddr, id, timeout)
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a key-value pair through the gateway",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().Set(context.Background(), args[0], args[1], "")
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read a key through the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().Get(context.Background(), args[0])
			if err == client.ErrNotFound {
				fmt.Printf("key %q not found\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway and membership status",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().GetRaw(context.Background(), "/status")
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	}
}

func ringCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ring",
		Short: "Show the current hash ring",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().GetRaw(context.Background(), "/ring")
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	}
}

func nodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List known cluster nodes (prints the full /status body, same as status)",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().GetRaw(context.Background(), "/status")
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	}
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
