package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/internal/config"
	"github.com/jbweber/anvil/internal/libvirt"
	"github.com/jbweber/anvil/internal/logging"
	"github.com/jbweber/anvil/internal/metrics"
	"github.com/jbweber/anvil/internal/output"
	"github.com/jbweber/anvil/internal/storage"
	"github.com/jbweber/anvil/internal/vm"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Populated by the root command before any subcommand runs.
var (
	settings *config.Settings
	logger   = logr.Discard()
)

// Flag values.
var (
	envFiles     []string
	workingDir   string
	socketPath   string
	logLevel     string
	logFormat    string
	metricsFile  string
	outputFormat string
	noHeaders    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "anvil",
	Short: "Anvil - idempotent libvirt machine provisioning",
	Long: `Anvil creates, registers and configures libvirt machines from declarative
VirtualMachine resources.

A machine is only created when no machine with the same name is registered
on the host; otherwise the request is rejected and nothing is changed.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		settings = s

		l, err := logging.New(s.LogLevel, s.LogFormat)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringSliceVar(&envFiles, "env-file", []string{config.DefaultEnvFile}, "Dotenv files with ANVIL_* settings (missing files are skipped)")
	flags.StringVar(&workingDir, "working-dir", "", "Directory for machine settings and seed ISOs (env ANVIL_WORKING_DIR)")
	flags.StringVar(&socketPath, "socket", "", "Libvirt daemon socket (env ANVIL_LIBVIRT_SOCKET)")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, error (env ANVIL_LOG_LEVEL)")
	flags.StringVar(&logFormat, "log-format", "", "Log format: console, json (env ANVIL_LOG_FORMAT)")
	flags.StringVar(&metricsFile, "metrics-file", "", "Write a node_exporter textfile after each run (env ANVIL_METRICS_FILE)")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(testConnCmd)
}

// addOutputFlags registers -o and --no-headers on cmd.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputFormat, "output", "o", string(output.FormatTable), "Output format: table, yaml, json")
	cmd.Flags().BoolVar(&noHeaders, "no-headers", false, "Omit table headers")
}

func newFormatter() (output.Formatter, error) {
	if err := output.ValidateFormat(outputFormat); err != nil {
		return nil, err
	}
	return output.NewFormatter(output.Options{
		Format:    output.Format(outputFormat),
		NoHeaders: noHeaders,
	})
}

// loadSettings reads the environment and dotenv files, then applies the
// flags the user set explicitly.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	s, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("working-dir") {
		s.WorkingDir = workingDir
		if os.Getenv(config.EnvLockDir) == "" {
			s.LockDir = filepath.Join(workingDir, ".locks")
		}
	}
	if flags.Changed("socket") {
		s.LibvirtSocket = socketPath
	}
	if flags.Changed("log-level") {
		s.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		s.LogFormat = logFormat
	}
	if flags.Changed("metrics-file") {
		s.MetricsFile = metricsFile
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// conn is one connection to the host and everything built on it.
type conn struct {
	client      *libvirt.Client
	storage     *storage.Manager
	host        *libvirt.Host
	provisioner *vm.Provisioner
	metrics     *metrics.Recorder
}

// connect dials libvirt and wires the provisioner. withProcess selects
// whether Go runtime metrics are collected.
func connect(ctx context.Context, withProcess bool) (*conn, error) {
	client, err := libvirt.ConnectWithContext(ctx, settings.LibvirtSocket, settings.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}

	c := &conn{
		client:  client,
		storage: storage.NewManager(client.Libvirt()),
		metrics: metrics.NewRecorder(withProcess),
	}
	c.host = libvirt.NewHost(client.Libvirt(), c.storage, libvirt.HostOptions{
		LockDir: settings.LockDir,
		Logger:  logger.WithName("host"),
	})
	c.provisioner = vm.NewProvisioner(c.host, vm.Options{
		WorkingDir: settings.WorkingDir,
		Logger:     logger.WithName("provisioner"),
		Observer:   c.metrics,
	})
	return c, nil
}

func (c *conn) close() {
	if err := c.client.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", err)
	}
}

// writeMetrics writes the textfile when one is configured.
func (c *conn) writeMetrics() {
	if settings.MetricsFile == "" {
		return
	}
	if err := c.metrics.WriteTextfile(settings.MetricsFile); err != nil {
		logger.Error(err, "could not write metrics textfile", "path", settings.MetricsFile)
	}
}

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test libvirt connection",
	Long:  `Test connectivity to the libvirt daemon and display version information.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Testing libvirt connection at %s...\n", settings.LibvirtSocket)

		client, err := libvirt.ConnectWithContext(cmd.Context(), settings.LibvirtSocket, settings.ConnectTimeout)
		if err != nil {
			return fmt.Errorf("failed to connect to libvirt: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", closeErr)
			}
		}()

		fmt.Println("✓ Connected to libvirt daemon")

		if err := client.Ping(); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}

		version, err := client.LibVersion()
		if err != nil {
			return fmt.Errorf("failed to get libvirt version: %w", err)
		}
		fmt.Printf("✓ Libvirt version: %s\n", version)

		hostname, err := client.Libvirt().ConnectGetHostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		fmt.Printf("✓ Hypervisor hostname: %s\n", hostname)

		uri, err := client.Libvirt().ConnectGetUri()
		if err != nil {
			return fmt.Errorf("failed to get connection URI: %w", err)
		}
		fmt.Printf("✓ Connection URI: %s\n", uri)

		fmt.Println("\nConnection test successful!")
		return nil
	},
}
