package main

import (
	"fmt"

	"chatsync/backend/internal/chatclient"

	"github.com/spf13/cobra"
)

var (
	loginUserID string
	loginAvatar string
)

func init() {
	loginCmd.Flags().StringVar(&loginUserID, "id", "", "reuse an existing user id")
	loginCmd.Flags().StringVar(&loginAvatar, "avatar", "", "avatar url")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Get a development token and store it in the config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		userID := loginUserID
		if userID == "" && cfg.Auth.Username == args[0] {
			userID = cfg.Auth.UserID
		}

		api := chatclient.NewAPIClient(cfg.Server.URL, "")
		token, user, err := api.Login(cmd.Context(), userID, args[0], loginAvatar)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}

		cfg.Auth = AuthConfig{Token: token, UserID: user.ID, Username: user.Username, Avatar: user.Avatar}
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", user.Username, user.ID)
		return nil
	},
}
