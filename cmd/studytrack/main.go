package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"studytrack/internal/chat"
	"studytrack/internal/config"
	"studytrack/internal/docstore"
	"studytrack/internal/engine"
	"studytrack/internal/ledger"
	"studytrack/internal/localstate"
	"studytrack/internal/model"
	"studytrack/internal/util"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store connection failed: %v", err)
	}
	defer store.Close()

	slot := localstate.NewSlot(cfg.StateFile)
	eng := engine.New(cfg, store)
	defer eng.Teardown()

	// The chat service rides on the same store and session; a UI on top
	// of this binary calls into it for the messaging screens.
	_ = chat.New(store, eng)

	user, err := startSession(ctx, eng, slot)
	if err != nil {
		log.Fatalf("session start failed: %v", err)
	}
	if err := slot.Save(user.ID); err != nil {
		log.Printf("WARNING: cannot save resume slot: %v", err)
	}

	chapters, completed, points := ledger.Totals(&user)
	log.Printf("signed in as %s (%s): %d/%d chapters done, %d pts", user.Username, user.ID, completed, chapters, points)

	eng.OnChange(func(u model.User) {
		log.Printf("record updated remotely: %d pts, %d chapters", u.Points, len(u.Chapters))
	})
	eng.OnFriendChange(func(friendID string) {
		board, err := eng.Leaderboard(ctx)
		if err != nil {
			log.Printf("leaderboard refresh failed: %v", err)
			return
		}
		log.Printf("friend %s updated; leaderboard now:", friendID)
		for rank, u := range board {
			log.Printf("  %d. %s — %d pts", rank+1, u.Username, u.Points)
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutting down")
}

// startSession resumes the saved session when one exists, clearing the
// slot if the account is gone; otherwise it signs in with the
// configured identity, generating a fresh id when none is set.
func startSession(ctx context.Context, eng *engine.Engine, slot *localstate.Slot) (model.User, error) {
	if saved, err := slot.Load(); err != nil {
		log.Printf("WARNING: cannot read resume slot: %v", err)
	} else if saved != "" {
		user, found, err := eng.Resume(ctx, saved)
		if err != nil {
			return model.User{}, err
		}
		if found {
			return user, nil
		}
		log.Printf("saved account %s no longer exists", saved)
		if err := slot.Clear(); err != nil {
			log.Printf("WARNING: cannot clear resume slot: %v", err)
		}
	}

	id := os.Getenv("STUDYTRACK_USER_ID")
	if id == "" {
		id = util.NewUserID()
	}
	username := os.Getenv("STUDYTRACK_USERNAME")
	if username == "" {
		username = "student"
	}
	return eng.Authenticate(ctx, id, username)
}

func openStore(ctx context.Context, cfg config.Config) (docstore.Store, error) {
	if cfg.StoreBackend == "postgres" {
		log.Printf("using Postgres document store")
		return docstore.OpenPostgres(ctx, cfg.DatabaseURL)
	}
	log.Printf("using Redis document store")
	return docstore.NewRedis(cfg.RedisURL)
}
