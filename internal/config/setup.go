package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard walks the operator through the relay settings on in/out
// and saves the result. It is run by `statecast init`.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║            Statecast - Relay Setup           ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")

	for attempt := 0; attempt < 3; attempt++ {
		server := cfg.GetServer()
		app := cfg.GetApplicationData()

		fmt.Fprintln(out)
		fmt.Fprintln(out, "── Relay ──")

		server.ListenAddress = promptString(reader, out, "Listen address", server.ListenAddress)
		server.Port = promptInt(reader, out, "Port", server.Port)
		server.WWWDirectory = promptString(reader, out, "Directory with the emulator web client", server.WWWDirectory)
		server.WebSocketPath = promptString(reader, out, "WebSocket path", server.WebSocketPath)

		fmt.Fprintln(out)
		fmt.Fprintln(out, "── Session History ──")

		app.Database.Enabled = promptBool(reader, out, "Record session history", app.Database.Enabled)
		if app.Database.Enabled {
			app.Database.RetentionDays = promptInt(reader, out, "Days of history to keep", app.Database.RetentionDays)
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "── MQTT Telemetry ──")

		app.MQTT.Enabled = promptBool(reader, out, "Enable MQTT telemetry", app.MQTT.Enabled)
		if app.MQTT.Enabled {
			app.MQTT.BrokerURL = promptString(reader, out, "Broker host", app.MQTT.BrokerURL)
			app.MQTT.Port = promptInt(reader, out, "Broker port", app.MQTT.Port)
		}

		cfg.SetServer(server)
		cfg.SetApplicationData(app)

		result := Validate(cfg)
		if result.IsValid() {
			for _, w := range result.Warnings {
				log.Warn().Str("field", w.Field).Msg(w.Message)
			}
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "✓ Configuration saved to %s\n", cfg.Path())
			return nil
		}

		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, out, "Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) != "yes" {
			break
		}
	}

	return fmt.Errorf("configuration validation failed")
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
