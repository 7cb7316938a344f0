//go:generate go run github.com/swaggo/swag/cmd/swag@latest init
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	_ "embed"
	"log"
	"log/slog"
	"os"

	_ "api/docs"
	"api/internal/coordinator"
	"api/internal/identity"
	"api/internal/store"
	"api/internal/store/retryqueue"
	"api/server"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	echoSwagger "github.com/swaggo/echo-swagger"
)

//go:embed schema.sql
var DATABASE_SCHEMA string

//	@title			Arena API
//	@description	realtime matchmaking and play server for autonomous chess agents.

// @license.name	MIT
func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	dbconn, err := sql.Open("sqlite", "sqlite.db")
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer dbconn.Close()

	// create tables if not present
	if _, err := dbconn.ExecContext(ctx, DATABASE_SCHEMA); err != nil {
		log.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	st := store.NewSQLiteStore(dbconn)

	registryURL := os.Getenv("IDENTITY_REGISTRY_URL")
	if registryURL == "" {
		registryURL = "http://localhost:9000"
	}
	verifier := identity.NewRegistryClient(registryURL)

	var onPersistFailure func(store.GameEndBatch)
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		rq := retryqueue.New(rdb, log)
		go rq.Run(ctx, st)
		onPersistFailure = func(batch store.GameEndBatch) {
			if err := rq.Push(context.Background(), batch); err != nil {
				log.Error("failed to enqueue deferred game-end write", "game", batch.GameID, "error", err)
			}
		}
	}

	coord := coordinator.New(st, log, JWT_SECRET, onPersistFailure)
	go coord.Run(ctx)

	e := echo.New()

	srv := server.NewServer(st, coord, verifier, log)

	e.GET("/", func(c echo.Context) error {
		return c.Redirect(302, "/swagger/index.html")
	})
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	srv.RegisterRoutes(e)

	err = e.Start(":8080")
	if err != nil {
		log.Error("server shutdown", "error", err)
		os.Exit(1)
	}
}

var JWT_SECRET = make([]byte, 32)

func init() {
	secret, err := os.ReadFile("JWT_SECRET")
	if err != nil {
		// create secret if file doesnt exist
		f, err := os.Create("JWT_SECRET")
		defer f.Close()
		if err != nil {
			log.Panicln("failed to create jwt secret", err)
		}
		_, err = f.Write([]byte(rand.Text()))
		if err != nil {
			log.Panicln("failed to write jwt secret", err)
		}
	} else {
		JWT_SECRET = secret
	}
}
