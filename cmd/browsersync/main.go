// Package main provides the CLI entry point for the browsersync daemon.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tailmesh/browsersync/internal/certutil"
	"github.com/tailmesh/browsersync/internal/config"
	"github.com/tailmesh/browsersync/internal/control"
	"github.com/tailmesh/browsersync/internal/identity"
	"github.com/tailmesh/browsersync/internal/logging"
	"github.com/tailmesh/browsersync/internal/metrics"
	"github.com/tailmesh/browsersync/internal/pairing"
	"github.com/tailmesh/browsersync/internal/store"
	"github.com/tailmesh/browsersync/internal/syncengine"
	"github.com/tailmesh/browsersync/internal/transport"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "browsersync",
		Short: "browsersync - peer-to-peer encrypted browser profile sync",
		Long: `browsersync keeps a browser profile's extensions, containers, and
preferences synchronized across a small mesh of trusted devices, end to end
encrypted and without any server in between.`,
		Version: Version,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "start", Title: "Getting Started:"})
	rootCmd.AddGroup(&cobra.Group{ID: "pairing", Title: "Pairing:"})
	rootCmd.AddGroup(&cobra.Group{ID: "status", Title: "Status:"})

	keygen := keygenCmd()
	keygen.GroupID = "start"
	rootCmd.AddCommand(keygen)

	run := runCmd()
	run.GroupID = "start"
	rootCmd.AddCommand(run)

	status := statusCmd()
	status.GroupID = "status"
	rootCmd.AddCommand(status)

	peers := peersCmd()
	peers.GroupID = "status"
	rootCmd.AddCommand(peers)

	rootCmd.AddCommand(pairCmd())
	rootCmd.AddCommand(certCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func keygenCmd() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate this device's identity and keypair",
		Long:  "Create a device id and X25519 keypair if one does not already exist in the data directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}

			id, created, err := identity.LoadOrCreateDeviceID(dataDir)
			if err != nil {
				return fmt.Errorf("load or create device id: %w", err)
			}
			kp, keyCreated, err := identity.LoadOrCreateKeypair(dataDir)
			if err != nil {
				return fmt.Errorf("load or create keypair: %w", err)
			}

			if created || keyCreated {
				fmt.Printf("Generated new device identity in %s\n", dataDir)
			} else {
				fmt.Printf("Device identity already exists in %s\n", dataDir)
			}
			fmt.Printf("Device ID:  %s\n", id.String())
			fmt.Printf("Public Key: %s\n", kp.PublicKeyString())
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for persistent state")
	return cmd
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		Long:  "Start the daemon: open the event log, listen for peer connections, and serve the local control and pairing surfaces.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./browsersync.yaml", "Path to configuration file")
	return cmd
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

	if err := os.MkdirAll(cfg.Device.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	device, _, err := identity.LoadOrCreateDeviceID(cfg.Device.DataDir)
	if err != nil {
		return fmt.Errorf("load device id: %w", err)
	}
	keypair, _, err := identity.LoadOrCreateKeypair(cfg.Device.DataDir)
	if err != nil {
		return fmt.Errorf("load keypair: %w", err)
	}

	storePath := cfg.Store.Path
	if !filepath.IsAbs(storePath) {
		storePath = filepath.Join(cfg.Device.DataDir, storePath)
	}
	st, err := store.Open(storePath, device)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer st.Close()

	m := metrics.NewMetrics()

	tr, err := buildTransport(cfg.Transport.Kind)
	if err != nil {
		return err
	}

	dialOpts := transport.DefaultDialOptions()
	dialOpts.InsecureSkipVerify = !cfg.Transport.TLS.StrictVerify
	listenOpts := transport.DefaultListenOptions()

	tlsConfig, err := loadOrGenerateTLS(cfg, device)
	if err != nil {
		return fmt.Errorf("set up transport TLS: %w", err)
	}
	listenOpts.TLSConfig = tlsConfig
	dialOpts.TLSConfig = tlsConfig.Clone()
	dialOpts.TLSConfig.InsecureSkipVerify = true

	engCfg := syncengine.DefaultConfig()
	engCfg.Device = device
	engCfg.DeviceName = deviceDisplayName(cfg)
	engCfg.PrivateKey = keypair.PrivateKey
	engCfg.PublicKey = keypair.PublicKey
	engCfg.Store = st
	engCfg.Transport = tr
	engCfg.DialOptions = dialOpts
	engCfg.Metrics = m
	engCfg.Logger = logger
	if cfg.Transport.DialTimeout > 0 {
		engCfg.DialOptions.Timeout = cfg.Transport.DialTimeout
	}
	if cfg.Transport.ReconnectInitialDelay > 0 {
		engCfg.ReconnectConfig.InitialDelay = cfg.Transport.ReconnectInitialDelay
	}
	if cfg.Transport.ReconnectMaxDelay > 0 {
		engCfg.ReconnectConfig.MaxDelay = cfg.Transport.ReconnectMaxDelay
	}

	engine := syncengine.NewEngine(engCfg)
	defer engine.Close()

	keystore := pairing.NewKeystore(cfg.Device.DataDir)
	peerKeys, err := keystore.LoadAll()
	if err != nil {
		return fmt.Errorf("load paired peer keys: %w", err)
	}
	addrByDevice := make(map[identity.DeviceID]string)
	for _, p := range cfg.Peers.Known {
		id, err := identity.ParseDeviceID(p.DeviceID)
		if err != nil {
			logger.Warn("skipping peer with invalid device id", "device_id", p.DeviceID, "error", err)
			continue
		}
		addrByDevice[id] = p.Address
	}
	for id, pub := range peerKeys {
		engine.AddPeerKey(id, pub, addrByDevice[id])
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- engine.Serve(ctx, cfg.Transport.ListenAddress, listenOpts)
	}()

	for id, addr := range addrByDevice {
		if addr == "" {
			continue
		}
		if _, ok := peerKeys[id]; !ok {
			continue
		}
		go func(addr string) {
			dialCtx, dialCancel := context.WithTimeout(ctx, cfg.Transport.DialTimeout)
			defer dialCancel()
			if _, err := engine.Connect(dialCtx, addr); err != nil {
				logger.Warn("initial dial failed, will retry on reconnect policy", "address", addr, "error", err)
			}
		}(addr)
	}

	pairSession := pairing.NewSession(cfg.Pairing.CodeTTL, keystore, device, func(peer identity.DeviceID, pubKeyHex string) {
		pub, err := identity.ParseKey(pubKeyHex)
		if err != nil {
			logger.Error("paired peer key malformed", "peer", peer.ShortString(), "error", err)
			return
		}
		engine.AddPeerKey(peer, pub, "")
		logger.Info("paired with new device", "peer", peer.ShortString())
	}, m)

	pairServer := pairing.NewServer(pairing.ServerConfig{
		ListenAddress: cfg.Pairing.ListenAddress,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
	}, pairSession, logger)
	if err := pairServer.Start(); err != nil {
		return fmt.Errorf("start pairing listener: %w", err)
	}
	defer pairServer.Stop()

	controlServer := control.NewServer(control.ServerConfig{
		SocketPath:   cfg.Control.SocketPath,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}, engine, pairSession)
	if err := controlServer.Start(); err != nil {
		return fmt.Errorf("start control server: %w", err)
	}
	defer controlServer.Stop()

	if cfg.Metrics.Enabled {
		metricsSrv := &http.Server{Addr: cfg.Metrics.ListenAddress, Handler: promhttp.Handler()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics listener stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("browsersync daemon started",
		"device_id", device.String(),
		"transport", cfg.Transport.Kind,
		"listen_address", cfg.Transport.ListenAddress,
		"pairing_address", cfg.Pairing.ListenAddress,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("sync listener stopped unexpectedly", "error", err)
		}
	}

	cancel()
	return nil
}

func buildTransport(kind string) (transport.Transport, error) {
	switch kind {
	case "quic":
		return transport.NewQUICTransport(), nil
	case "ws":
		return transport.NewWebSocketTransport(), nil
	default:
		return nil, fmt.Errorf("unsupported transport.kind: %s", kind)
	}
}

// loadOrGenerateTLS builds the listener's TLS config from configured
// certificate files, or mints a self-signed certificate on the fly.
// Either way this is not the trust boundary: internal/syncengine's secure
// frame layer authenticates and encrypts payloads above the transport.
func loadOrGenerateTLS(cfg *config.Config, device identity.DeviceID) (*tls.Config, error) {
	if cfg.Transport.TLS.HasCert() {
		certPEM, err := cfg.Transport.TLS.GetCertPEM()
		if err != nil {
			return nil, fmt.Errorf("read certificate: %w", err)
		}
		keyPEM, err := cfg.Transport.TLS.GetKeyPEM()
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		return transport.TLSConfigFromBytes(certPEM, keyPEM)
	}

	certPEM, keyPEM, err := transport.GenerateSelfSignedCert(device.String(), 365*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("generate self-signed certificate: %w", err)
	}
	return transport.TLSConfigFromBytes(certPEM, keyPEM)
}

func deviceDisplayName(cfg *config.Config) string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return cfg.Device.ID
	}
	return hostname
}

func statusCmd() *cobra.Command {
	var socketPath string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(socketPath)
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			st, err := client.Status(ctx)
			if err != nil {
				return fmt.Errorf("query status: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}

			fmt.Printf("Device ID:   %s\n", st.DeviceID)
			fmt.Printf("Device Name: %s\n", st.DeviceName)
			fmt.Printf("Running:     %v\n", st.Running)
			fmt.Printf("Peers:       %s\n", humanize.Comma(int64(st.PeerCount)))
			fmt.Printf("Events:      %s\n", humanize.Comma(int64(st.EventCount)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&socketPath, "socket", "s", "./data/control.sock", "Control socket path")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func peersCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List connected peer devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(socketPath)
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			resp, err := client.Peers(ctx)
			if err != nil {
				return fmt.Errorf("query peers: %w", err)
			}

			if len(resp.Peers) == 0 {
				fmt.Println("No connected peers.")
				return nil
			}
			for _, p := range resp.Peers {
				fmt.Println(p)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&socketPath, "socket", "s", "./data/control.sock", "Control socket path")
	return cmd
}

func pairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pair",
		Short:   "Pair this device with another using a rendezvous code",
		GroupID: "pairing",
	}

	cmd.AddCommand(pairInitCmd())
	cmd.AddCommand(pairJoinCmd())
	cmd.AddCommand(pairPendingCmd())
	cmd.AddCommand(pairAcceptCmd())
	cmd.AddCommand(pairRejectCmd())
	cmd.AddCommand(pairCancelCmd())
	return cmd
}

func pairInitCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Start a pairing session and print a code to share with the joining device",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(socketPath)
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			resp, err := client.PairInitiate(ctx)
			if err != nil {
				return fmt.Errorf("initiate pairing: %w", err)
			}

			codeStyle := lipgloss.NewStyle().
				Bold(true).
				Padding(0, 2).
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("63"))

			fmt.Println(codeStyle.Render(resp.Code))
			fmt.Printf("Expires %s (%s)\n", humanize.Time(resp.ExpiresAt), resp.ExpiresAt.Format(time.RFC3339))
			fmt.Println("Share this code with the joining device, then run `browsersync pair pending` once it submits.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&socketPath, "socket", "s", "./data/control.sock", "Control socket path")
	return cmd
}

func pairJoinCmd() *cobra.Command {
	var dataDir string
	var deviceName string
	var poll bool

	cmd := &cobra.Command{
		Use:   "join [address] [code]",
		Short: "Submit a pairing code to a remote device's pairing listener",
		Long: `Join dials the initiator's pairing listener directly over the network
with this device's own identity and public key; it does not go through the
local control socket, since the remote device's operator (not this device)
decides whether to accept the request.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var address, code string
			if len(args) > 0 {
				address = args[0]
			}
			if len(args) > 1 {
				code = args[1]
			}
			if address == "" || code == "" {
				if err := promptJoinDetails(&address, &code); err != nil {
					return fmt.Errorf("prompt for join details: %w", err)
				}
			}

			device, _, err := identity.LoadOrCreateDeviceID(dataDir)
			if err != nil {
				return fmt.Errorf("load device id: %w", err)
			}
			keypair, _, err := identity.LoadOrCreateKeypair(dataDir)
			if err != nil {
				return fmt.Errorf("load keypair: %w", err)
			}
			if deviceName == "" {
				deviceName, _ = os.Hostname()
			}

			client := pairing.NewClient()
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			result, err := client.Join(ctx, address, code, pairing.JoinInfo{
				DeviceID:     device.String(),
				DeviceName:   deviceName,
				PublicKeyHex: keypair.PublicKeyString(),
			})
			if err != nil {
				return fmt.Errorf("join: %w", err)
			}
			fmt.Printf("Status: %s\n", result.Status)

			if result.Status != pairing.StatusAcceptedPending || !poll {
				return nil
			}

			fmt.Println("Waiting for the other device's operator to accept...")
			for i := 0; i < 60; i++ {
				time.Sleep(5 * time.Second)
				pollCtx, pollCancel := context.WithTimeout(context.Background(), 5*time.Second)
				status, err := client.JoinStatus(pollCtx, address, code)
				pollCancel()
				if err != nil {
					continue
				}
				if status.Status != pairing.StatusAcceptedPending {
					fmt.Printf("Status: %s\n", status.Status)
					return nil
				}
			}
			fmt.Println("Timed out waiting for a response; check again later with the same code.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for persistent state")
	cmd.Flags().StringVar(&deviceName, "name", "", "Display name to present to the initiator (defaults to hostname)")
	cmd.Flags().BoolVar(&poll, "wait", true, "Poll for the initiator's decision after submitting")
	return cmd
}

func pairPendingCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Show the join request awaiting a decision, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(socketPath)
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			resp, err := client.PairPending(ctx)
			if err != nil {
				return fmt.Errorf("query pending: %w", err)
			}
			if !resp.Pending {
				fmt.Println("No pending join request.")
				return nil
			}
			fmt.Printf("Device:      %s\n", resp.DeviceName)
			fmt.Printf("Device ID:   %s\n", resp.DeviceID)
			fmt.Printf("Fingerprint: %s\n", resp.Fingerprint)
			fmt.Println("Run `browsersync pair accept` or `browsersync pair reject` to decide.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&socketPath, "socket", "s", "./data/control.sock", "Control socket path")
	return cmd
}

func pairAcceptCmd() *cobra.Command {
	return pairRespondCmd("accept", true)
}

func pairRejectCmd() *cobra.Command {
	return pairRespondCmd("reject", false)
}

func pairRespondCmd(use string, accept bool) *cobra.Command {
	var socketPath string
	var yes bool

	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("%s the pending join request", capitalize(use)),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(socketPath)
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			decision := accept
			if accept && !yes {
				pending, err := client.PairPending(ctx)
				if err != nil {
					return fmt.Errorf("query pending: %w", err)
				}
				if !pending.Pending {
					return fmt.Errorf("no pending join request")
				}
				decision, err = confirmPendingRequest(pending)
				if err != nil {
					return fmt.Errorf("prompt for decision: %w", err)
				}
			}

			resp, err := client.PairRespond(ctx, decision)
			if err != nil {
				return fmt.Errorf("respond to pending join: %w", err)
			}
			fmt.Printf("Status: %s\n", resp.Status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&socketPath, "socket", "s", "./data/control.sock", "Control socket path")
	if accept {
		cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the interactive confirmation prompt")
	}
	return cmd
}

func pairCancelCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the in-progress pairing session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(socketPath)
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := client.PairCancel(ctx); err != nil {
				return fmt.Errorf("cancel pairing: %w", err)
			}
			fmt.Println("Pairing session cancelled.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&socketPath, "socket", "s", "./data/control.sock", "Control socket path")
	return cmd
}

func certCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Inspect the transport listener's TLS certificate",
	}
	cmd.AddCommand(certInfoCmd())
	return cmd
}

func certInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <cert-file>",
		Short: "Print a certificate's subject, validity window, and fingerprint",
		Long: `The transport listener's TLS certificate is not the trust boundary for
paired devices (internal/syncengine's secure frame layer is), but operators
still need to tell a self-signed cert apart from an expired or misconfigured
one when debugging a connection.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := certutil.GetCertInfoFromFile(args[0])
			if err != nil {
				return fmt.Errorf("read certificate: %w", err)
			}

			fmt.Printf("Subject:     %s\n", info.Subject)
			fmt.Printf("Issuer:      %s\n", info.Issuer)
			fmt.Printf("Not Before:  %s\n", info.NotBefore.Format(time.RFC3339))
			fmt.Printf("Not After:   %s\n", info.NotAfter.Format(time.RFC3339))
			fmt.Printf("Fingerprint: %s\n", info.Fingerprint)
			if len(info.DNSNames) > 0 {
				fmt.Printf("DNS Names:   %v\n", info.DNSNames)
			}
			if info.NotAfter.Before(time.Now()) {
				fmt.Println("WARNING: certificate has expired")
			}
			return nil
		},
	}
	return cmd
}

// promptJoinDetails fills in whichever of address/code was not given on
// the command line, rendered as a huh form so the flow matches pair init's
// styled code display.
func promptJoinDetails(address, code *string) error {
	var fields []huh.Field
	if *address == "" {
		fields = append(fields, huh.NewInput().
			Title("Initiator address").
			Description("host:port of the device that ran `pair init`").
			Value(address).
			Validate(func(s string) error {
				if s == "" {
					return fmt.Errorf("an address is required")
				}
				return nil
			}))
	}
	if *code == "" {
		fields = append(fields, huh.NewInput().
			Title("Pairing code").
			Value(code).
			Validate(func(s string) error {
				if len(s) != 6 {
					return fmt.Errorf("code must be 6 digits")
				}
				return nil
			}))
	}
	if len(fields) == 0 {
		return nil
	}
	return huh.NewForm(huh.NewGroup(fields...)).Run()
}

// confirmPendingRequest renders the pending join request and asks the
// operator to accept or reject it, in place of blindly trusting whatever
// the --socket flag's caller intended.
func confirmPendingRequest(pending *control.PendingResponse) (bool, error) {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	fmt.Println(headerStyle.Render("Pairing request"))
	fmt.Printf("Device:      %s\n", pending.DeviceName)
	fmt.Printf("Device ID:   %s\n", pending.DeviceID)
	fmt.Printf("Fingerprint: %s\n", pending.Fingerprint)

	var accept bool
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Accept this device into the sync mesh?").
			Affirmative("Accept").
			Negative("Reject").
			Value(&accept),
	)).Run()
	return accept, err
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-32) + s[1:]
}
