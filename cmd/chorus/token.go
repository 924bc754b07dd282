package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	apiv1 "github.com/hrygo/chorus/server/router/api/v1"
	"github.com/hrygo/chorus/store"
)

var tokenCmd = &cobra.Command{
	Use:   "token <username>",
	Short: "Print an API access token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		if p.Secret == "" {
			return fmt.Errorf("--secret is required to mint tokens")
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		create, _ := cmd.Flags().GetBool("create")

		ctx := context.Background()
		s, err := openStore(ctx, p)
		if err != nil {
			return err
		}
		defer s.Close()

		user, err := findOrCreateUser(ctx, s, args[0], create)
		if err != nil {
			return err
		}
		var expiresAt time.Time
		if ttl > 0 {
			expiresAt = time.Now().Add(ttl)
		}
		token, err := apiv1.GenerateAccessToken(user.ID, expiresAt, []byte(p.Secret))
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Duration("ttl", 30*24*time.Hour, "token lifetime, 0 never expires")
	tokenCmd.Flags().Bool("create", false, "create the user when missing")
}

func findOrCreateUser(ctx context.Context, s *store.Store, username string, create bool) (*store.User, error) {
	list, err := s.ListUsers(ctx, &store.FindUser{Username: &username})
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if len(list) > 0 {
		return list[0], nil
	}
	if !create {
		return nil, fmt.Errorf("user %q not found", username)
	}
	user, err := s.CreateUser(ctx, &store.User{
		Username:    username,
		DisplayName: username,
		CreatedTs:   time.Now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}
