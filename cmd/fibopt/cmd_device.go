package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var askPass bool

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Push the stored lists to the device",
	Long: `Push the stored lists to the device without fetching new data.

LPM is pushed first, then LEM after the settle interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if askPass {
			pass, err := readPassword(fmt.Sprintf("Password for %s@%s: ", cfg.Device.User, cfg.Device.Host))
			if err != nil {
				return err
			}
			cfg.Device.Password = pass
		}

		return withLock(cfg, func() error {
			orch, closeFn, err := newOrchestrator(cfg, true)
			if err != nil {
				return err
			}
			defer closeFn()

			run, err := orch.InstallPersisted(cmd.Context())
			printRunSummary(os.Stdout, run)
			return err
		})
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Purge analytics data past its retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLock(cfg, func() error {
			orch, closeFn, err := newOrchestrator(cfg, false)
			if err != nil {
				return err
			}
			defer closeFn()

			run, err := orch.Purge(cmd.Context())
			printRunSummary(os.Stdout, run)
			return err
		})
	},
}

func init() {
	installCmd.Flags().BoolVar(&askPass, "ask-pass", false, "Prompt for the device password")
}

func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--ask-pass needs a terminal on stdin")
	}
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pass), nil
}
