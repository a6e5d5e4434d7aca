// Copyright 2018 Axel Wagner
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

package commands

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/axwalt/roughtime"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ed25519"
)

var (
	queryHost      string
	queryPort      int
	queryServerKey string
	queryServers   string
	queryTimeout   time.Duration
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query one or more Roughtime servers and print the verified time",
	Long: `query sends a request to a server, verifies every signature and
Merkle path in the reply, and prints the resulting time. Pass --servers to
query a whole JSON server list (see LoadServerList) concurrently instead of
a single --host/--port/--server-key.`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryHost, "host", "", "server host (single-server mode)")
	queryCmd.Flags().IntVar(&queryPort, "port", 2002, "server UDP port (single-server mode)")
	queryCmd.Flags().StringVar(&queryServerKey, "server-key", "", "base64 long-term public key of the server (single-server mode)")
	queryCmd.Flags().StringVar(&queryServers, "servers", "", "path to a JSON server list (multi-server mode; see LoadServerList)")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 2*time.Second, "per-query timeout")
}

func runQuery(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	client := roughtime.NewClient(16, logger, nil)
	ctx := context.Background()

	if queryServers != "" {
		return runQueryMulti(cmd, ctx, client)
	}
	return runQuerySingle(cmd, ctx, client)
}

func runQuerySingle(cmd *cobra.Command, ctx context.Context, client *roughtime.Client) error {
	if queryHost == "" || queryServerKey == "" {
		return fmt.Errorf("query: --host and --server-key are required unless --servers is given")
	}
	pub, err := base64.StdEncoding.DecodeString(queryServerKey)
	if err != nil {
		return fmt.Errorf("decoding --server-key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("--server-key is %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}

	result, err := client.Query(ctx, queryHost, queryPort, ed25519.PublicKey(pub), queryTimeout)
	if err != nil {
		return fmt.Errorf("querying %s:%d: %w", queryHost, queryPort, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s  midpoint=%s radius=%s\n",
		queryHost, result.Midpoint.Format(time.RFC3339Nano), result.Radius)
	return nil
}

func runQueryMulti(cmd *cobra.Command, ctx context.Context, client *roughtime.Client) error {
	f, err := os.Open(queryServers)
	if err != nil {
		return fmt.Errorf("opening %s: %w", queryServers, err)
	}
	defer f.Close()

	entries, err := roughtime.LoadServerList(f)
	if err != nil {
		return err
	}

	results := client.QueryAll(ctx, entries, queryTimeout)
	var failed int
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s error: %v\n", r.Server, r.Err)
			failed++
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-16s midpoint=%s radius=%s\n",
			r.Server, r.Result.Midpoint.Format(time.RFC3339Nano), r.Result.Radius)
	}

	if violations := client.VerifyReplies(); len(violations) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "causality violations: %v\n", violations)
	}
	if failed == len(results) && len(results) > 0 {
		return fmt.Errorf("query: all %d servers failed", len(results))
	}
	return nil
}
