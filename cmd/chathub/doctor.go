package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"chathub/internal/channel"
	"chathub/internal/config"
	"chathub/internal/orchestrator"
	"chathub/internal/secrets"
	"chathub/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your ChatHub installation",
		Long: `Verifies that ChatHub's configuration, secrets, database, and channel
credentials are correctly set up. Reports pass/fail for each check.
Channel checks call each platform's identity endpoint with the
configured credentials.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("ChatHub Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'chathub init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return nil
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Master key usable
			box, err := secrets.NewBox(cfg.General.MasterKey)
			if err != nil {
				printFail("Master key", err.Error())
				failed++
			} else {
				printPass("Master key", "valid 32-byte key")
				passed++
			}

			// 4. Database writable
			if err := checkDatabase(cfg.Storage.DBPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", cfg.Storage.DBPath)
				passed++
			}

			// 5. Providers configured
			if len(cfg.Providers) == 0 {
				printFail("Providers", "no providers configured")
				failed++
			}
			for name, p := range cfg.Providers {
				if p.Type != "openai" {
					printFail("Provider: "+name, fmt.Sprintf("unknown type %q", p.Type))
					failed++
				} else {
					printPass("Provider: "+name, "configured")
					passed++
				}
			}

			// 6. Listen port available
			if err := checkAddr(cfg.General.ListenAddr); err != nil {
				printWarn("Listen addr", fmt.Sprintf("%s may be in use: %v", cfg.General.ListenAddr, err))
				warned++
			} else {
				printPass("Listen addr", cfg.General.ListenAddr+" available")
				passed++
			}

			// 7. Channel credentials: decrypt and probe each platform
			if box != nil {
				p, f := checkChannels(cfg, box)
				passed += p
				failed += f
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running ChatHub.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nChatHub should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! ChatHub is ready to run.\n")
			}
			return nil
		},
	}
}

// checkChannels probes every configured channel's platform API with its
// decrypted credentials. Probe failures count as failed checks but do
// not abort the run.
func checkChannels(cfg *config.Config, box *secrets.Box) (passed, failed int) {
	directory := store.NewConfigDirectory(cfg)
	channels := channel.NewRegistry(logger,
		channel.NewTelegram(),
		channel.NewWhatsApp(),
		channel.NewSlack(),
		channel.NewDiscord(),
	)
	orch := orchestrator.New(orchestrator.Config{
		Logger:     logger,
		Channels:   channels,
		ChannelDir: directory,
		Secrets:    box,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	reports, err := orch.CheckChannels(ctx, directory)
	if err != nil {
		printFail("Channels", err.Error())
		return 0, 1
	}
	for _, r := range reports {
		label := fmt.Sprintf("Channel: %s/%s", r.TenantID, r.ChannelID)
		if r.Health.Healthy {
			detail := string(r.Type)
			if name := r.Health.Metadata["username"]; name != "" {
				detail += " as " + name
			}
			printPass(label, detail)
			passed++
		} else {
			printFail(label, r.Health.LastError)
			failed++
		}
	}
	return passed, failed
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-24s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-24s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-24s %s\n", check, detail)
}
