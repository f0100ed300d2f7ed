package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/xfrllc/frank/internal/config"
	"github.com/xfrllc/frank/internal/store"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Auth token management commands",
	}

	cmd.AddCommand(newTokenCreateCmd())
	return cmd
}

func newTokenCreateCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a bearer token, registering the user if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			db, err := store.Connect(cfg.DB.Driver, cfg.DB.DSN)
			if err != nil {
				return err
			}
			if err := store.AutoMigrate(db); err != nil {
				return err
			}

			if userID == "" {
				userID = uuid.NewString()
			}

			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			token := hex.EncodeToString(raw)

			var expiresAt *time.Time
			if ttl > 0 {
				t := time.Now().UTC().Add(ttl)
				expiresAt = &t
			}

			err = db.Transaction(func(tx *gorm.DB) error {
				if err := tx.FirstOrCreate(&store.UserRow{ID: userID}, "id = ?", userID).Error; err != nil {
					return err
				}
				return tx.Create(&store.AuthTokenRow{
					UserID:    userID,
					Token:     token,
					ExpiresAt: expiresAt,
				}).Error
			})
			if err != nil {
				return fmt.Errorf("create token: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "User:  %s\n", userID)
			fmt.Fprintf(out, "Token: %s\n", token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "frank.yaml", "path to config file")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (a new user is created when omitted)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (0 means no expiry)")
	return cmd
}
