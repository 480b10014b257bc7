// Carmine - Discord and Slack message bridge
// License: MIT

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/carmine/cmd/carmine/internal"
	"github.com/tinyland-inc/carmine/cmd/carmine/internal/gateway"
	"github.com/tinyland-inc/carmine/cmd/carmine/internal/links"
	"github.com/tinyland-inc/carmine/cmd/carmine/internal/version"
)

func NewCarmineCommand() *cobra.Command {
	short := fmt.Sprintf("%s carmine - Discord <-> Slack bridge v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "carmine",
		Short:   short,
		Example: "carmine gateway --config ~/.carmine/config.yaml",
	}

	cmd.AddCommand(
		gateway.NewGatewayCommand(),
		links.NewLinksCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewCarmineCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
