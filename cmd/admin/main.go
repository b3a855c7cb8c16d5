package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"chatsync/backend/internal/models"
	"chatsync/backend/internal/storage"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const usage = `Usage: admin <command> [args]

Commands:
  migrate                                  create tables and default rooms
  rooms                                    list rooms
  create-room <id> [description]           add a room
  members <room_id>                        list room members
  kick <room_id> <user_id>                 remove a membership
  unread <user_id>                         show unread counts of a user`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	_ = godotenv.Load()
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		log.Fatal("DATABASE_DSN is not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	storageSvc := storage.NewStorageService(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	args := os.Args[2:]
	switch os.Args[1] {
	case "migrate":
		if err := storageSvc.Migrate(); err != nil {
			log.Fatalf("Error migrating: %v", err)
		}
		if err := storageSvc.EnsureDefaultRooms(ctx); err != nil {
			log.Fatalf("Error creating default rooms: %v", err)
		}
		fmt.Println("Schema is up to date.")
	case "rooms":
		rooms, err := storageSvc.ListRooms(ctx)
		if err != nil {
			log.Fatalf("Error listing rooms: %v", err)
		}
		for _, r := range rooms {
			fmt.Printf("%-16s %s\n", r.ID, r.Description)
		}
	case "create-room":
		if len(args) < 1 || len(args) > 2 {
			fmt.Println("Usage: admin create-room <id> [description]")
			os.Exit(1)
		}
		room := &models.Room{ID: args[0]}
		if len(args) == 2 {
			room.Description = args[1]
		}
		if err := storageSvc.CreateRoom(ctx, room); err != nil {
			log.Fatalf("Error creating room: %v", err)
		}
		fmt.Printf("Room %s has been created.\n", room.ID)
	case "members":
		if len(args) != 1 {
			fmt.Println("Usage: admin members <room_id>")
			os.Exit(1)
		}
		members, err := storageSvc.ListRoomMembers(ctx, args[0])
		if err != nil {
			log.Fatalf("Error listing members: %v", err)
		}
		for _, id := range members {
			fmt.Println(id)
		}
	case "kick":
		if len(args) != 2 {
			fmt.Println("Usage: admin kick <room_id> <user_id>")
			os.Exit(1)
		}
		if err := storageSvc.RemoveRoomMember(ctx, args[0], args[1]); err != nil {
			log.Fatalf("Error removing member: %v", err)
		}
		fmt.Printf("User %s has been removed from %s.\n", args[1], args[0])
	case "unread":
		if len(args) != 1 {
			fmt.Println("Usage: admin unread <user_id>")
			os.Exit(1)
		}
		if err := printUnread(ctx, storageSvc, args[0]); err != nil {
			log.Fatalf("Error counting unread: %v", err)
		}
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

func printUnread(ctx context.Context, s storage.Storage, userID string) error {
	rooms, err := s.RoomUnreadCounts(ctx, userID)
	if err != nil {
		return err
	}
	direct, err := s.DirectUnreadCounts(ctx, userID)
	if err != nil {
		return err
	}
	for _, r := range rooms {
		fmt.Printf("room:%-16s %d\n", r.RoomID, r.Count)
	}
	for _, d := range direct {
		fmt.Printf("dm:%-18s %d\n", d.UserID, d.Count)
	}
	return nil
}
