package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/portless-dev/portless/internal/client"
	"github.com/portless-dev/portless/internal/config"
	"github.com/portless-dev/portless/internal/detect"
	"github.com/portless-dev/portless/internal/protocol"
)

func newStartCommand() *cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start [name]",
		Short: "Register the current project and start its dev server",
		Long: `Reads portless.json from the current directory, asks the daemon for a port,
and starts the project's dev server behind <name>.localhost. Without a
portless.json the project type is detected and a config is written first.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runStart,
	}
	startCmd.Flags().Int("port", 0, "Register an already-running server on this port instead of spawning one")
	return startCmd
}

func runStart(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	externalPort, _ := cmd.Flags().GetInt("port")

	dir, err := os.Getwd()
	if err != nil {
		return out.Error("Could not determine working directory", err)
	}

	project, err := loadOrCreateProject(dir, externalPort != 0)
	if err != nil {
		return out.Error("No usable project configuration", err)
	}

	domain := project.FullDomain()
	if len(args) == 1 {
		domain = config.FullDomain(args[0])
	}

	data := protocol.RegisterData{
		Domain:    domain,
		Directory: dir,
		PortEnv:   project.PortEnv,
		PortArg:   project.PortArg,
	}
	if externalPort != 0 {
		data.Port = externalPort
	} else {
		if strings.TrimSpace(project.Start) == "" {
			return out.Error(fmt.Sprintf("%s has no start command; add one or use --port", config.ProjectFileName), nil)
		}
		data.Command = project.Start
	}

	c := client.New(config.GetPaths("").Socket)
	result, err := c.Register(data)
	if err != nil {
		return out.Error(fmt.Sprintf("Failed to register %s", domain), err)
	}

	if out.jsonMode {
		return out.Print(result)
	}

	fmt.Printf("%s -> 127.0.0.1:%d", result.Domain, result.Port)
	if result.PID > 0 {
		fmt.Printf(" (pid %d)", result.PID)
	}
	fmt.Println()
	fmt.Printf("  http://%s\n", result.Domain)
	if result.PID > 0 {
		fmt.Printf("  logs: %s\n", filepath.Join(config.GetPaths("").Logs, result.Domain+".log"))
	}
	return nil
}

// loadOrCreateProject returns the project config, seeding portless.json from
// framework detection when none exists. externalOnly skips the requirement
// for a start command (the --port flow).
func loadOrCreateProject(dir string, externalOnly bool) (config.Project, error) {
	project, err := config.LoadProject(dir)
	if err == nil {
		return project, nil
	}
	if !errors.Is(err, config.ErrNoProjectFile) {
		return config.Project{}, err
	}

	project = config.Project{Domain: strings.ToLower(filepath.Base(dir))}

	if fw := detect.Detect(dir); fw != nil {
		project.Start = fw.Command
		project.PortEnv = fw.PortEnv
		project.PortArg = fw.PortArg
		fmt.Printf("Detected %s project, writing %s\n", fw.Name, config.ProjectFileName)
	} else if !externalOnly {
		return config.Project{}, fmt.Errorf("no %s and no recognisable project in %s", config.ProjectFileName, dir)
	}

	if err := config.SaveProject(dir, project); err != nil {
		return config.Project{}, err
	}
	return project, nil
}
