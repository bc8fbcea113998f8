package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/valerioisufi/battleship-SO-project/internal/client"
)

func main() {
	address := flag.String("address", "", "server host (required)")
	port := flag.Int("port", 0, "server port (required)")
	username := flag.String("username", "bot", "name to log in with")
	join := flag.Int("join", -1, "game id to join; omit to create a game instead")
	gameName := flag.String("game", "bot-game", "name of the game to create")
	opponents := flag.Int("opponents", 1, "players to wait for before starting a created game")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	if *address == "" || *port <= 0 {
		fmt.Fprintln(os.Stderr, "battleship-bot: -address and -port are required")
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	bot := &client.Bot{
		Address:   fmt.Sprintf("%s:%d", *address, *port),
		Username:  *username,
		JoinID:    *join,
		GameName:  *gameName,
		Opponents: *opponents,
	}
	if err := bot.Run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}
