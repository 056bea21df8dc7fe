package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/localbrain/contextd/configs"
	"github.com/localbrain/contextd/internal/config"
)

func newConfigCmd(dataDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialize contextd configuration files",
	}
	cmd.AddCommand(newConfigInitCmd(dataDir))
	cmd.AddCommand(newConfigPathCmd(dataDir))
	cmd.AddCommand(newConfigBackupsCmd())
	return cmd
}

func newConfigInitCmd(dataDir *string) *cobra.Command {
	var user bool
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented configuration template to disk",
		Long: `init writes a template configuration file: --user targets the
machine-level config at ~/.config/contextd/config.yaml, shared across every
data directory; the default targets <data_dir>/config.yaml, scoped to one
memory store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, *dataDir, user, force)
		},
	}
	cmd.Flags().BoolVar(&user, "user", false, "write the user/machine config instead of the data-directory config")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func runConfigInit(cmd *cobra.Command, dataDir string, user, force bool) error {
	var path, template string
	if user {
		path = config.GetUserConfigPath()
		template = configs.UserConfigTemplate
		if force {
			if backup, err := config.BackupUserConfig(); err != nil {
				return fmt.Errorf("back up existing user config: %w", err)
			} else if backup != "" {
				cmd.Printf("backed up existing config to %s\n", backup)
			}
		}
	} else {
		cfg := config.NewConfig()
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		path = filepath.Join(cfg.DataDir, "config.yaml")
		template = configs.ProjectConfigTemplate
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists; pass --force to overwrite", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		return fmt.Errorf("write config template: %w", err)
	}

	cmd.Printf("wrote %s\n", path)
	return nil
}

func newConfigBackupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List and restore timestamped backups of the user config",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List user config backups, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			backups, err := config.ListUserConfigBackups()
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				cmd.Println("no backups found")
				return nil
			}
			for _, b := range backups {
				cmd.Println(b)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <backup-path>",
		Short: "Restore the user config from a backup file, backing up the current one first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.RestoreUserConfig(args[0]); err != nil {
				return err
			}
			cmd.Printf("restored %s to %s\n", args[0], config.GetUserConfigPath())
			return nil
		},
	})

	return cmd
}

func newConfigPathCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the resolved user and data-directory config paths",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.NewConfig()
			if *dataDir != "" {
				cfg.DataDir = *dataDir
			}
			cmd.Printf("user:          %s\n", config.GetUserConfigPath())
			cmd.Printf("data directory: %s\n", filepath.Join(cfg.DataDir, "config.yaml"))
			return nil
		},
	}
}
