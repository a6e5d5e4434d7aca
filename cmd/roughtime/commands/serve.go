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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/axwalt/roughtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/ed25519"
)

var (
	serveAddr        string
	servePort        int
	serveCertFile    string
	serveKeyFile     string
	serveRadius      time.Duration
	serveMetricsAddr string
	serveEphemeral   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a Roughtime server",
	Long: `serve binds a UDP socket and answers Roughtime requests, signing
each reply with the delegate key named by --delegate-key under the
certificate named by --cert. Both are produced by "roughtime delegate".

With --ephemeral, serve generates a throwaway long-term keypair and
delegate certificate in memory instead, for test runs where a stable,
reusable identity doesn't matter; --cert and --delegate-key are ignored
in that mode.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "0.0.0.0", "address to listen on")
	serveCmd.Flags().IntVar(&servePort, "port", 2002, "UDP port to listen on")
	serveCmd.Flags().StringVar(&serveCertFile, "cert", "roughtime-delegate.cert", "path to the encoded CERT message")
	serveCmd.Flags().StringVar(&serveKeyFile, "delegate-key", "roughtime-delegate.key", "path to the delegate private key")
	serveCmd.Flags().DurationVar(&serveRadius, "radius", roughtime.DefaultRadius, "uncertainty radius reported in each reply")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9100)")
	serveCmd.Flags().BoolVar(&serveEphemeral, "ephemeral", false, "generate an ephemeral long-term key and delegate certificate instead of loading --cert/--delegate-key, for test runs")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := bindConfig(cmd); err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cert, delegatePriv, err := loadOrGenerateIdentity(logger)
	if err != nil {
		return err
	}

	var reg prometheus.Registerer
	if serveMetricsAddr != "" {
		registry := prometheus.NewRegistry()
		reg = registry
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(serveMetricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		logger.Info("metrics listening", zap.String("addr", serveMetricsAddr))
	}

	srv, err := roughtime.NewServer(cert, delegatePriv, serveRadius, logger, reg)
	if err != nil {
		return fmt.Errorf("constructing server: %w", err)
	}
	if err := srv.Start(serveAddr, servePort); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	srv.Stop()
	return nil
}

// loadOrGenerateIdentity returns the CERT and delegate private key serve
// should run with: loaded from --cert/--delegate-key normally, or a fresh
// ephemeral long-term keypair and delegate certificate when --ephemeral is
// set. The ephemeral long-term private key is discarded immediately after
// signing; only the delegate key and certificate ever touch the server.
func loadOrGenerateIdentity(logger *zap.Logger) (roughtime.Certificate, ed25519.PrivateKey, error) {
	if serveEphemeral {
		_, longPriv, err := roughtime.GenerateLongTermKeypair()
		if err != nil {
			return roughtime.Certificate{}, nil, fmt.Errorf("generating ephemeral long-term keypair: %w", err)
		}
		mint := time.Now().UTC()
		cert, delegatePriv, err := roughtime.CreateDelegate(longPriv, mint, mint.Add(roughtime.DefaultDelegateValidity))
		if err != nil {
			return roughtime.Certificate{}, nil, fmt.Errorf("creating ephemeral delegate certificate: %w", err)
		}
		logger.Warn("running with an ephemeral identity; it will not survive a restart")
		return cert, delegatePriv, nil
	}

	certBytes, err := os.ReadFile(serveCertFile)
	if err != nil {
		return roughtime.Certificate{}, nil, fmt.Errorf("reading %s: %w", serveCertFile, err)
	}
	cert, err := roughtime.DecodeCertificate(certBytes)
	if err != nil {
		return roughtime.Certificate{}, nil, fmt.Errorf("decoding %s: %w", serveCertFile, err)
	}
	delegatePriv, err := readKeyFile(serveKeyFile)
	if err != nil {
		return roughtime.Certificate{}, nil, err
	}
	if len(delegatePriv) != ed25519.PrivateKeySize {
		return roughtime.Certificate{}, nil, fmt.Errorf("%s is %d bytes, want %d", serveKeyFile, len(delegatePriv), ed25519.PrivateKeySize)
	}
	return cert, delegatePriv, nil
}
