package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cowechat/internal/config"
	"cowechat/internal/metrics"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	configPath  string // --config
	corpID      string // --corp-id
	corpSecret  string // --secret
	agentID     string // --agent-id
	showMetrics bool   // --metrics
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "cowechat",
		Short:         "Send enterprise WeChat notifications from the command line",
		Long:          "cowechat obtains and caches an application access token and sends text, image, voice, video and file messages to users, departments or tags.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if !showMetrics {
				return nil
			}
			return metrics.Collector.WriteText(os.Stderr)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.cowechat/config.json)")
	pf.StringVar(&corpID, "corp-id", "", "corp id (overrides identity.corpId)")
	pf.StringVar(&corpSecret, "secret", "", "application secret (overrides identity.secret)")
	pf.StringVar(&agentID, "agent-id", "", "application agent id (overrides identity.agentId)")
	pf.BoolVar(&showMetrics, "metrics", false, "print metrics to stderr when the command finishes")

	root.AddCommand(initCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(uploadCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			cfg.Identity.CorpID = corpID
			cfg.Identity.Secret = corpSecret
			cfg.Identity.AgentID = config.FlexString(agentID)
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Println("wrote", cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func tokenCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token, fetching one if the cache is stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			client, err := rt.client(cmd.Context())
			if err != nil {
				return err
			}
			token := client.Token()
			if refresh {
				if token, err = client.Credentials().Refresh(cmd.Context()); err != nil {
					return err
				}
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch a new token even if the cached one is valid")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. send.retryAttempts)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. cache.backend redis)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("%s updated in %s\n", args[0], cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			for _, k := range sortedKeys(paths) {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
