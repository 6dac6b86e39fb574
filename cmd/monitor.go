// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/mielestat/pkg/publish"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const defaultMQTTPort = "1883"

var (
	mqttAddr         string
	mqttTopic        string
	mqttUsername     string
	mqttClientID     string
	publishRegisters bool
	monitorTUI       bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Decode and publish remaining time and program status",
	Long: `Continuously decode the panel registers and publish the remaining program
time and the program status whenever they change.

Values are printed to stdout and, with --mqtt, published as retained
messages under <topic>/time and <topic>/status. With --publish-registers the
raw registers of both chips are also published as CBOR under <topic>/registers.

For MQTT authentication, the password is read from the
MIELESTAT_MQTT_PASSWORD environment variable, or prompted interactively.

Examples:
  # Raspberry Pi wired to the panel bus, publishing to a local broker
  mielestat monitor --gpio --mqtt localhost

  # Decode a recorded capture
  mielestat monitor --capture trace.bin`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&mqttAddr, "mqtt", "", "MQTT broker address (host[:port])")
	monitorCmd.Flags().StringVar(&mqttTopic, "mqtt-topic", "mielestat", "MQTT topic prefix")
	monitorCmd.Flags().StringVar(&mqttUsername, "mqtt-username", "", "MQTT username")
	monitorCmd.Flags().StringVar(&mqttClientID, "mqtt-client-id", "mielestat", "MQTT client identifier")
	monitorCmd.Flags().BoolVar(&publishRegisters, "publish-registers", false, "Also publish the raw registers as CBOR")
	monitorCmd.Flags().BoolVar(&monitorTUI, "tui", false, "Use terminal UI")
}

// mqttAddress adds the default port to a broker address without one
func mqttAddress(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, defaultMQTTPort)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	bus, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The TUI owns the terminal
	var logOutput io.Writer = os.Stderr
	if monitorTUI {
		logOutput = io.Discard
	}
	logger := slog.New(slog.NewTextHandler(logOutput, nil))

	sinks := publish.MultiSink{}
	if mqttAddr != "" {
		mqttSink, err := openMQTTSink(ctx, logger)
		if err != nil {
			return err
		}
		defer mqttSink.Close()
		sinks = append(sinks, mqttSink)
	}

	opts := []publish.Option{publish.WithLogger(logger)}
	if publishRegisters {
		opts = append(opts, publish.WithRegisters())
	}

	if monitorTUI {
		return runMonitorTUI(ctx, bus, sinks, opts)
	}
	return runMonitorText(ctx, bus, append(sinks, publish.NewWriterSink(os.Stdout)), opts, logger)
}

func openMQTTSink(ctx context.Context, logger *slog.Logger) (*publish.MQTTSink, error) {
	password := ""
	if mqttUsername != "" {
		var err error
		password, err = readPassword("MIELESTAT_MQTT_PASSWORD", "MQTT password: ")
		if err != nil {
			return nil, err
		}
	}

	return publish.DialMQTT(ctx, publish.MQTTConfig{
		Addr:     mqttAddress(mqttAddr),
		ClientID: mqttClientID,
		Prefix:   mqttTopic,
		Username: mqttUsername,
		Password: password,
		Timeout:  10 * time.Second,
		Logger:   logger,
	})
}

// runMonitorText publishes until interrupted, or until a capture is exhausted
func runMonitorText(ctx context.Context, bus *Bus, sink publish.Sink, opts []publish.Option, logger *slog.Logger) error {
	fmt.Printf("Mielestat - Monitor\n")
	fmt.Printf("Source: %s\n", bus.Info)
	fmt.Printf("Interval: %s\n", pollInterval)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	publisher := publish.NewPublisher(bus.Monitor, sink, opts...)
	logger.Info("monitor:start", slog.String("source", bus.Info), slog.Duration("interval", pollInterval))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// The publisher stops with the source
		defer cancel()
		return bus.Run(gctx)
	})
	g.Go(func() error {
		return publisher.Run(gctx, pollInterval, nil)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("bus source: %w", err)
	}

	if bus.Finite() {
		// Publish the state the capture ended in
		publisher.Step(ctx)
	}
	logger.Info("monitor:stop")
	return nil
}

// runMonitorTUI publishes while showing the live view
func runMonitorTUI(ctx context.Context, bus *Bus, sinks publish.MultiSink, opts []publish.Option) error {
	p := tea.NewProgram(initialModel(bus.Info, pollInterval, bus.Replay))
	sinks = append(sinks, &tuiSink{program: p})
	publisher := publish.NewPublisher(bus.Monitor, sinks, opts...)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		err := bus.Run(gctx)
		p.Send(sourceDoneMsg{err: err})
		return err
	})
	g.Go(func() error {
		return publisher.Run(gctx, pollInterval, func(r publish.Result) {
			p.Send(resultMsg(r))
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		p.Quit()
		return nil
	})

	_, runErr := p.Run()
	cancel()
	if err := g.Wait(); err != nil {
		return fmt.Errorf("bus source: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return nil
}
