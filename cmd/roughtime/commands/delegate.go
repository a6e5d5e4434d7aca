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
	"fmt"
	"os"
	"time"

	"github.com/axwalt/roughtime"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ed25519"
)

var (
	delegateLongTermKey string
	delegateValidFor    time.Duration
	delegateOutCert     string
	delegateOutKey      string
)

var delegateCmd = &cobra.Command{
	Use:   "delegate",
	Short: "Issue a delegate certificate signed by a long-term key",
	Long: `delegate loads a long-term private key and signs a fresh,
short-lived delegate keypair, valid from now for --valid-for. A server only
ever holds the delegate private key and the resulting certificate; the
long-term key can then go back offline.`,
	RunE: runDelegate,
}

func init() {
	delegateCmd.Flags().StringVar(&delegateLongTermKey, "long-term-key", "", "path to a long-term private key file, as written by \"roughtime keygen\"")
	delegateCmd.Flags().DurationVar(&delegateValidFor, "valid-for", roughtime.DefaultDelegateValidity, "how long the delegate certificate remains valid")
	delegateCmd.Flags().StringVar(&delegateOutCert, "out-cert", "roughtime-delegate.cert", "file to write the encoded CERT message to")
	delegateCmd.Flags().StringVar(&delegateOutKey, "out-key", "roughtime-delegate.key", "file to write the delegate private key to")
	delegateCmd.MarkFlagRequired("long-term-key")
}

func runDelegate(cmd *cobra.Command, args []string) error {
	longPriv, err := readKeyFile(delegateLongTermKey)
	if err != nil {
		return err
	}
	if len(longPriv) != ed25519.PrivateKeySize {
		return fmt.Errorf("%s is %d bytes, want %d (an ed25519 private key)", delegateLongTermKey, len(longPriv), ed25519.PrivateKeySize)
	}

	mint := time.Now().UTC()
	maxt := mint.Add(delegateValidFor)
	cert, delegatePriv, err := roughtime.CreateDelegate(longPriv, mint, maxt)
	if err != nil {
		return fmt.Errorf("creating delegate certificate: %w", err)
	}

	certBytes, err := cert.Encode()
	if err != nil {
		return fmt.Errorf("encoding certificate: %w", err)
	}
	if err := os.WriteFile(delegateOutCert, certBytes, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", delegateOutCert, err)
	}
	if err := writeKeyFile(delegateOutKey, delegatePriv); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s, valid %s to %s\n",
		delegateOutCert, delegateOutKey, mint.Format(time.RFC3339), maxt.Format(time.RFC3339))
	return nil
}
