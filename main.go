package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"pangea.chat/config"
	"pangea.chat/geo"
	"pangea.chat/server"
	"pangea.chat/store"
)

func main() {
	cfg := config.Load()

	client, err := store.NewClient(cfg.Redis)
	if err != nil {
		log.Fatal(err)
	}

	var lookup geo.Lookup
	if cfg.GeoDB != "" {
		reader, err := geo.Open(cfg.GeoDB)
		if err != nil {
			log.Fatal(err)
		}
		defer reader.Close()
		lookup = reader.Lookup
	}

	s := server.New(server.Options{
		Instance:    cfg.InstanceID,
		Presence:    store.NewPresence(client),
		Leaderboard: store.NewLeaderboard(client),
		Stats:       store.NewCounters(client),
		Bus:         store.NewBus(client),
		Lookup:      lookup,
	})

	go func() {
		if err := s.Run(context.Background()); err != nil {
			log.Fatal(err)
		}
	}()

	r := mux.NewRouter()
	r.HandleFunc("/events", s.EventsHandler)
	r.HandleFunc("/stats", s.StatsHandler).Methods("GET")
	r.HandleFunc("/users", s.UsersHandler).Methods("GET")
	r.HandleFunc("/leaderboard", s.LeaderboardHandler).Methods("GET")
	r.HandleFunc("/health", s.HealthHandler).Methods("GET")

	// serve the html directory by default
	if _, err := os.Stat("html"); err == nil {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir("html")))
	}

	log.Printf("instance %s listening on :%s", s.Instance, cfg.Port)

	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
