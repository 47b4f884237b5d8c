package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/db"
	"github.com/suPer8Hu/gopherchat/internal/directory"
	"github.com/suPer8Hu/gopherchat/internal/httpapi"
	"github.com/suPer8Hu/gopherchat/internal/realtime"
	"github.com/suPer8Hu/gopherchat/internal/store/rabbitmq"
	"github.com/suPer8Hu/gopherchat/internal/store/redisstore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	db.Migrate(gdb)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rds.Ping(ctx)
		cancel()
		if err != nil {
			log.Printf("redis unavailable, presence cache disabled: %v", err)
			_ = rds.Close()
			rds = nil
		} else {
			defer rds.Close()
		}
	}

	var pub *rabbitmq.Publisher
	if cfg.RabbitURL != "" {
		p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Printf("rabbit unavailable, presence events disabled: %v", err)
		} else {
			pub = p
			defer pub.Close()
		}
	}

	dir := directory.NewService(gdb, rds, pub)
	router := realtime.NewRouter(dir)

	engine := httpapi.NewRouter(gdb, cfg, dir, router)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: engine,
	}

	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done
	log.Printf("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	router.Close(ctx)

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
