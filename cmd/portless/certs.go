package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portless-dev/portless/internal/certs"
	"github.com/portless-dev/portless/internal/client"
	"github.com/portless-dev/portless/internal/config"
	"github.com/portless-dev/portless/internal/truststore"
)

func newCertCommands() []*cobra.Command {
	trustCmd := &cobra.Command{
		Use:           "trust-ca",
		Short:         "Install the portless CA into the system trust store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runTrustCA,
	}
	trustCmd.Flags().Bool("remove", false, "Remove the CA from the trust store instead")

	cleanCmd := &cobra.Command{
		Use:           "clean-certs",
		Short:         "Delete the leaf certificate (the CA is kept)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCleanCerts,
	}

	regenCmd := &cobra.Command{
		Use:           "regen-cert",
		Short:         "Regenerate the certificate for all registered domains",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRegenCert,
	}

	return []*cobra.Command{trustCmd, cleanCmd, regenCmd}
}

func runTrustCA(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	remove, _ := cmd.Flags().GetBool("remove")

	paths := config.GetPaths("")
	manager := certs.NewManager(paths)

	if remove {
		if err := truststore.Remove("portless development CA"); err != nil {
			return out.Error("Failed to remove CA from trust store", err)
		}
		return out.Success("CA removed from system trust store", nil)
	}

	// Make sure there is a CA to install; first run creates one.
	if err := manager.EnsureCA(); err != nil {
		return out.Error("Failed to prepare CA certificate", err)
	}

	if err := truststore.Install(manager.CACertPath()); err != nil {
		return out.Error("Failed to install CA (try running with sudo)", err)
	}

	return out.Success(fmt.Sprintf("CA installed from %s", manager.CACertPath()), map[string]interface{}{
		"ca": manager.CACertPath(),
	})
}

func runCleanCerts(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	manager := certs.NewManager(config.GetPaths(""))
	removed, err := manager.Clean()
	if err != nil {
		return out.Error("Failed to remove certificates", err)
	}

	if len(removed) == 0 {
		return out.Success("No leaf certificate to remove", nil)
	}
	return out.Success(fmt.Sprintf("Removed %d certificate file(s); a fresh one is minted on next HTTPS start", len(removed)),
		map[string]interface{}{"removed": removed})
}

func runRegenCert(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	paths := config.GetPaths("")

	// A running daemon knows the registered domains and reloads the leaf
	// live; prefer asking it.
	c := client.New(paths.Socket)
	if c.IsRunning() {
		if err := c.RegenCert(); err != nil {
			return out.Error("Daemon failed to regenerate the certificate", err)
		}
		return out.Success("Certificate regenerated", nil)
	}

	manager := certs.NewManager(paths)
	if err := manager.Regenerate(nil); err != nil {
		return out.Error("Failed to regenerate certificate", err)
	}
	return out.Success("Certificate regenerated (covers *.localhost until the daemon adds service domains)", nil)
}
