// Statecast relays emulator state between browser peers over WebSocket.
//
// The serve command hosts the relay and the web client; watch and send
// are small peers for inspecting and feeding a running relay.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

const banner = `
  ____  _        _                        _   
 / ___|| |_ __ _| |_ ___  ___ __ _ ___| |_ 
 \___ \| __/ _' | __/ _ \/ __/ _' / __| __|
  ___) | || (_| | ||  __/ (_| (_| \__ \ |_ 
 |____/ \__\__,_|\__\___|\___\__,_|___/\__|  %s
 Emulator state relay
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "statecast",
		Short: "Relay emulator state between browser peers",
		Long: `Statecast hosts a WebSocket relay that forwards every message one
emulator peer sends to all the other connected peers, and serves the
emulator web client from a local directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		initCmd(),
		watchCmd(),
		sendCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "statecast %s (%s)\n", version, commit)
		},
	}
}
