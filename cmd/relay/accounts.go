package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/yansir/cc-relayer/internal/account"
	"github.com/yansir/cc-relayer/internal/config"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage the credential pool's account file",
	}
	cmd.AddCommand(accountsListCmd())
	cmd.AddCommand(accountsAddCmd())
	cmd.AddCommand(accountsRemoveCmd())
	return cmd
}

func openAccountStore() (*account.Store, *config.Config) {
	cfg := config.Load()
	return account.NewStore(cfg.AccountFilePath, slog.Default()), cfg
}

func accountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts in the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _ := openAccountStore()
			accounts, activeIndex, _, err := s.Load()
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Println("no accounts configured")
				return nil
			}
			for i, a := range accounts {
				marker := " "
				if i == activeIndex {
					marker = "*"
				}
				status := "ok"
				if a.Disabled {
					status = "disabled"
				} else if a.IsInvalid {
					status = "invalid: " + a.InvalidReason
				} else if a.IsRateLimited {
					status = "rate-limited"
				}
				fmt.Printf("%s [%d] %s (%s) — %s\n", marker, i, a.Email, a.Source, status)
			}
			return nil
		},
	}
}

func accountsAddCmd() *cobra.Command {
	var source, refreshToken, apiKey, projectID string

	cmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Add an account to the pool, encrypting its credential at rest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := args[0]
			s, cfg := openAccountStore()
			crypto := account.NewCrypto(cfg.EncryptionKey)

			accounts, activeIndex, settings, err := s.Load()
			if err != nil {
				return err
			}
			for _, a := range accounts {
				if a.Email == email {
					return fmt.Errorf("account %s already exists", email)
				}
			}

			a := &account.Account{
				Email:     email,
				Source:    account.Source(source),
				ProjectID: projectID,
			}
			now := time.Now()
			a.AddedAt = &now

			switch a.Source {
			case account.SourceOAuth:
				if refreshToken == "" {
					return fmt.Errorf("--refresh-token is required for source=oauth")
				}
				enc, err := crypto.Encrypt(refreshToken, email)
				if err != nil {
					return fmt.Errorf("encrypt refresh token: %w", err)
				}
				a.RefreshToken = enc
			case account.SourceManual:
				if apiKey == "" {
					return fmt.Errorf("--api-key is required for source=manual")
				}
				enc, err := crypto.Encrypt(apiKey, email)
				if err != nil {
					return fmt.Errorf("encrypt api key: %w", err)
				}
				a.APIKey = enc
			default:
				return fmt.Errorf("unknown source %q (want oauth or manual)", source)
			}

			accounts = append(accounts, a)
			if err := s.Save(accounts, activeIndex, settings); err != nil {
				return err
			}
			fmt.Printf("added %s (%s)\n", email, a.Source)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "oauth", "credential source: oauth or manual")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token (source=oauth)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "static API key (source=manual)")
	cmd.Flags().StringVar(&projectID, "project-id", "", "pin a cloudaicompanion project id, skipping discovery")
	return cmd
}

func accountsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <email>",
		Short: "Remove an account from the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := args[0]
			s, _ := openAccountStore()

			accounts, activeIndex, settings, err := s.Load()
			if err != nil {
				return err
			}

			kept := accounts[:0]
			found := false
			for i, a := range accounts {
				if a.Email == email {
					found = true
					if i < activeIndex {
						activeIndex--
					} else if i == activeIndex {
						activeIndex = 0
					}
					continue
				}
				kept = append(kept, a)
			}
			if !found {
				return fmt.Errorf("account %s not found", email)
			}
			if activeIndex >= len(kept) {
				activeIndex = 0
			}

			if err := s.Save(kept, activeIndex, settings); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", email)
			return nil
		},
	}
}
