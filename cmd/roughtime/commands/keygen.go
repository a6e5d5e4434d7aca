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
	"encoding/base64"
	"fmt"
	"os"

	"github.com/axwalt/roughtime"
	"github.com/spf13/cobra"
)

var keygenOutPrefix string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a long-term Ed25519 keypair",
	Long: `keygen creates a fresh long-term identity. The public key is what
operators publish for clients to pin; the private key must stay offline
except when signing a new delegate certificate with "roughtime delegate".`,
	RunE: runKeygen,
}

func init() {
	keygenCmd.Flags().StringVar(&keygenOutPrefix, "out", "roughtime-longterm", "file prefix for the generated keypair (writes PREFIX.pub and PREFIX.key)")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	pub, priv, err := roughtime.GenerateLongTermKeypair()
	if err != nil {
		return fmt.Errorf("generating keypair: %w", err)
	}
	if err := writeKeyFile(keygenOutPrefix+".pub", pub); err != nil {
		return err
	}
	if err := writeKeyFile(keygenOutPrefix+".key", priv); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s.pub and %s.key\npublic key: %s\n",
		keygenOutPrefix, keygenOutPrefix, base64.StdEncoding.EncodeToString(pub))
	return nil
}

func writeKeyFile(path string, key []byte) error {
	enc := base64.StdEncoding.EncodeToString(key)
	return os.WriteFile(path, []byte(enc+"\n"), 0o600)
}

func readKeyFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	key, err := base64.StdEncoding.DecodeString(trimNewline(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return key, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
