package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	appcfg "github.com/park285/cheese-rooms/internal/config"
	"github.com/park285/cheese-rooms/internal/obslog"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: chess-room serve")
	fmt.Fprintln(os.Stderr, "       chess-room play [-room CODE] [-mode 1v1|2v2]")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var mode appcfg.Mode
	switch os.Args[1] {
	case "serve":
		mode = appcfg.ModeServe
	case "play":
		mode = appcfg.ModePlay
	default:
		usage()
		os.Exit(2)
	}

	cfg, err := appcfg.Load(mode)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case appcfg.ModeServe:
		err = runServe(ctx, cfg)
	case appcfg.ModePlay:
		err = runPlay(ctx, cfg, os.Args[2:])
	}
	if err != nil {
		obslog.Sync()
		log.Fatalf("%s: %v", mode, err)
	}
}
