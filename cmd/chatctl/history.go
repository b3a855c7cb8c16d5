package main

import (
	"fmt"

	"chatsync/backend/internal/chatclient"
	"chatsync/backend/internal/models"

	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "number of messages (default from config)")
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(roomsCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history <room | dm:peer_id>",
	Short: "Print the recent messages of a room or private conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireLogin()
		if err != nil {
			return err
		}
		limit := historyLimit
		if limit <= 0 {
			limit = cfg.Session.HistoryLimit
		}

		scope := models.ParseScope(args[0])
		api := chatclient.NewAPIClient(cfg.Server.URL, cfg.Auth.Token)
		entries, err := api.History(cmd.Context(), scope, limit, cfg.Auth.UserID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No messages in %s\n", scope)
			return nil
		}
		for _, e := range entries {
			fmt.Fprintln(cmd.OutOrStdout(), formatEntry(e))
		}
		return nil
	},
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List rooms",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireLogin()
		if err != nil {
			return err
		}
		rooms, err := chatclient.NewAPIClient(cfg.Server.URL, cfg.Auth.Token).Rooms(cmd.Context())
		if err != nil {
			return err
		}
		for _, r := range rooms {
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", r.ID, r.Description)
		}
		return nil
	},
}

func formatEntry(e chatclient.Entry) string {
	name := e.SenderName
	if name == "" {
		name = e.SenderID
	}
	mark := ""
	if e.Pending {
		mark = " (sending)"
	}
	return fmt.Sprintf("[%s] %s: %s%s", e.CreatedAt.Local().Format("15:04"), name, e.Content, mark)
}
