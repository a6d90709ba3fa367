package cmd

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skywave-uplink/habuplink/callback"
	"github.com/skywave-uplink/habuplink/logging"
	"github.com/skywave-uplink/habuplink/queue"
	"github.com/skywave-uplink/habuplink/uploader"
	"github.com/skywave-uplink/habuplink/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the background upload worker and block until shutdown",
	RunE:  runE,
}

func init() {
	runCmd.Flags().String("callsign", "", "uploading listener's callsign (required)")
	runCmd.Flags().String("database-url", uploader.DefaultDatabaseURL, "base URL of the habitat store")
	runCmd.Flags().String("database-name", uploader.DefaultDatabaseName, "logical database name")
	runCmd.Flags().Int("max-merge-attempts", uploader.DefaultMaxMergeAttempts, "retry budget for conflicting writes")

	_ = viper.BindPFlag("callsign", runCmd.Flags().Lookup("callsign"))
	_ = viper.BindPFlag("database_url", runCmd.Flags().Lookup("database-url"))
	_ = viper.BindPFlag("database_name", runCmd.Flags().Lookup("database-name"))
	_ = viper.BindPFlag("max_merge_attempts", runCmd.Flags().Lookup("max-merge-attempts"))

	rootCmd.AddCommand(runCmd)
}

func runE(cmd *cobra.Command, args []string) error {
	if configPath := viper.GetString("config"); configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return err
		}
	}

	logging.Init(os.Stderr, viper.GetString("log_level"))

	var cfg uploader.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return err
	}

	w := worker.New(queue.NewInMemory(), callback.LogSink{})
	w.Start()

	if err := w.Settings(cfg); err != nil {
		return err
	}

	stdinClosed := make(chan struct{})
	go readStdinCommands(w, stdinClosed)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logging.Info("shutting down")
	case <-stdinClosed:
		logging.Info("stdin closed, shutting down")
	}

	return w.Close()
}

// readStdinCommands implements the manual smoke-testing stdin protocol:
// one command per line, "payload_telemetry <base64>" or
// "listener_telemetry <json>". It is not the line-delimited-JSON-array
// stdio protocol spec.md §6 places out of scope.
func readStdinCommands(w *worker.Worker, closed chan<- struct{}) {
	defer close(closed)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, " ", 2)
		verb := parts[0]
		var rest string
		if len(parts) == 2 {
			rest = parts[1]
		}

		switch verb {
		case "payload_telemetry":
			data, err := base64.StdEncoding.DecodeString(rest)
			if err != nil {
				logging.Errorf("payload_telemetry: invalid base64: %v", err)
				continue
			}
			if err := w.PayloadTelemetry(data, nil, -1); err != nil {
				logging.Errorf("payload_telemetry: %v", err)
			}
		case "listener_telemetry":
			var data interface{}
			if err := json.Unmarshal([]byte(rest), &data); err != nil {
				logging.Errorf("listener_telemetry: invalid JSON: %v", err)
				continue
			}
			if err := w.ListenerTelemetry(data, -1); err != nil {
				logging.Errorf("listener_telemetry: %v", err)
			}
		default:
			logging.Warnf("unrecognised stdin command %q", verb)
		}
	}
}
