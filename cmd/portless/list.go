package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/portless-dev/portless/internal/client"
	"github.com/portless-dev/portless/internal/config"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Aliases:       []string{"ls"},
		Short:         "List registered services",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runList,
	}
}

func runList(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c := client.New(config.GetPaths("").Socket)
	services, err := c.List()
	if err != nil {
		return out.Error("Failed to list services", err)
	}

	if out.jsonMode {
		return out.Print(services)
	}

	if len(services) == 0 {
		fmt.Println("No services registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tPORT\tPID\tUPTIME\tSTATUS")
	for _, svc := range services {
		pid := "-"
		if svc.PID > 0 {
			pid = fmt.Sprintf("%d", svc.PID)
		}
		uptime := "-"
		if !svc.StartedAt.IsZero() {
			uptime = time.Since(svc.StartedAt).Round(time.Second).String()
		}
		status := "up"
		if !svc.Alive {
			status = "dead"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", svc.Domain, svc.Port, pid, uptime, status)
	}
	return w.Flush()
}
