package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/portless-dev/portless/internal/client"
	"github.com/portless-dev/portless/internal/config"
)

func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop [name]",
		Short: "Stop a registered service and remove its route",
		Long: `Stops the service registered under <name>.localhost. Without an argument the
domain comes from portless.json in the current directory.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runStop,
	}
}

func runStop(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	domain, err := resolveDomain(args)
	if err != nil {
		return out.Error("No service named", err)
	}

	c := client.New(config.GetPaths("").Socket)
	if err := c.Stop(domain); err != nil {
		return out.Error(fmt.Sprintf("Failed to stop %s", domain), err)
	}

	return out.Success(fmt.Sprintf("Stopped %s", domain), map[string]interface{}{
		"domain": domain,
	})
}

// resolveDomain turns the optional CLI argument or the local portless.json
// into a routable hostname.
func resolveDomain(args []string) (string, error) {
	if len(args) == 1 {
		return config.FullDomain(args[0]), nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	project, err := config.LoadProject(dir)
	if err != nil {
		if errors.Is(err, config.ErrNoProjectFile) {
			return "", fmt.Errorf("no name given and no %s in %s", config.ProjectFileName, filepath.Base(dir))
		}
		return "", err
	}
	return project.FullDomain(), nil
}
