package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cowechat/internal/credential"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on config, token cache and API access",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("cowechat doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed, failed := 0, 0
			pass := func(check, detail string) { printPass(check, detail); passed++ }
			fail := func(check, detail string) { printFail(check, detail); failed++ }

			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
			} else {
				pass("Config file", cfgPath)
			}

			rt, err := setup()
			if err != nil {
				fail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}
			defer rt.Close()
			pass("Config validation", "valid")

			if err := rt.identity().Validate(); err != nil {
				fail("Identity", err.Error())
			} else {
				pass("Identity", "corp "+rt.cfg.Identity.CorpID+", agent "+string(rt.cfg.Identity.AgentID))
			}

			cache, where, err := rt.cache()
			if err != nil {
				fail("Token cache", err.Error())
			} else if rt.cfg.Cache.Backend == "redis" {
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				_, err := cache.Load(ctx)
				cancel()
				if err != nil && !errors.Is(err, credential.ErrCacheMiss) {
					fail("Token cache", fmt.Sprintf("%s: %v", where, err))
				} else {
					pass("Token cache", where)
				}
			} else if err := checkWritable(filepath.Dir(where)); err != nil {
				fail("Token cache", fmt.Sprintf("%s: %v", where, err))
			} else {
				pass("Token cache", where)
			}

			if rt.cfg.History.Enabled {
				if _, err := rt.openHistory(); err != nil {
					fail("History database", err.Error())
				} else {
					pass("History database", rt.cfg.History.DBPath)
				}
			}

			if rt.identity().Validate() == nil {
				ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
				detail, err := checkTokenEndpoint(ctx, rt)
				cancel()
				if err != nil {
					fail("Token endpoint", err.Error())
				} else {
					pass("Token endpoint", detail)
				}
			}

			fmt.Printf("\n%d passed, %d failed\n", passed, failed)
			if failed > 0 {
				return fmt.Errorf("%d checks failed", failed)
			}
			return nil
		},
	}
}

// checkTokenEndpoint fetches a new token even when the cached one is still
// valid, so a pass means the endpoint accepted the identity just now.
func checkTokenEndpoint(ctx context.Context, rt *runtime) (string, error) {
	client, err := rt.client(ctx)
	if err != nil {
		return "", err
	}
	token, err := client.Credentials().Refresh(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("token fetched (%d chars)", len(token)), nil
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".cowechat-doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
