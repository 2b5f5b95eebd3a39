// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/omerta-games/omerta-service/internal/auth"
	"github.com/omerta-games/omerta-service/internal/cache"
	"github.com/omerta-games/omerta-service/internal/database"
	"github.com/omerta-games/omerta-service/internal/handlers"
	"github.com/omerta-games/omerta-service/internal/middleware"
)

func main() {
	auth.Init()
	database.ConnectDB()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	if err := database.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}
	if err := cache.ConnectRedis(); err != nil {
		logger.Warnf("redis unavailable, action history disabled: %v", err)
	}

	mux := http.NewServeMux()

	// user endpoints
	mux.HandleFunc("/user/create", handlers.CreateUserHandler)
	mux.HandleFunc("/user/login", handlers.LoginHandler)
	mux.HandleFunc("/user/claim", handlers.ClaimEphemeralHandler)

	srv := handlers.NewGameServer()

	// session endpoints
	mux.Handle("/session/create", middleware.LogMiddleware(logger)(http.HandlerFunc(
		srv.CreateSessionHandler,
	)))
	mux.Handle("/session/join", middleware.LogMiddleware(logger)(http.HandlerFunc(
		srv.JoinSessionHandler,
	)))
	mux.Handle("/session/ai/add", middleware.LogMiddleware(logger)(http.HandlerFunc(
		srv.AddAIHandler,
	)))
	mux.Handle("/session/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.SessionWSHandler(logger, srv),
	)))

	// stats
	mux.Handle("/leaderboard", middleware.LogMiddleware(logger)(http.HandlerFunc(
		srv.LeaderboardHandler,
	)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
