package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/chatlink/chatlink-go/internal/config"
	"github.com/chatlink/chatlink-go/internal/creds/sqlcreds"
	"github.com/chatlink/chatlink-go/internal/logging"
	"github.com/chatlink/chatlink-go/internal/session"
)

var (
	phone    = flag.String("phone", "", "phone number to log in with")
	password = flag.String("password", "", "password to log in with")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New(cfg.LogLevel)

	var key [32]byte
	if cfg.CredsKey != "" {
		raw, err := hex.DecodeString(cfg.CredsKey)
		if err != nil || len(raw) != 32 {
			log.Fatal("CHATLINK_CREDS_KEY must be 64 hex characters")
		}
		copy(key[:], raw)
	}

	store, err := sqlcreds.New("sqlite3", cfg.CredsPath, key)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	sess, err := session.New(cfg, store, logger)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *phone != "" {
		if err := sess.Login(ctx, *phone, *password); err != nil {
			log.Fatal(err)
		}
	}

	if err := sess.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer sess.Logout(context.Background())

	if err := sess.Chat.GetConversations(ctx); err != nil {
		log.Fatal(err)
	}

	user, err := store.CurrentUser()
	if err != nil || user == nil {
		log.Fatal("no current user; pass -phone and -password to log in")
	}

	for _, conv := range sess.Chat.Conversations() {
		name := conv.Title
		if name == "" {
			for _, p := range conv.Participants {
				if p.ID != user.ID {
					name = p.FirstName + " " + p.LastName
					break
				}
			}
		}
		fmt.Printf("%s (%d unread): %s\n", name, conv.UnreadCount(user.ID), conv.Subtitle())
	}

	log.Println("Connected; syncing until interrupted")
	<-ctx.Done()
}
