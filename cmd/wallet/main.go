package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/alovak/cardwallet/wallet"
	"github.com/joho/godotenv"
	"golang.org/x/exp/slog"
)

var (
	flagConfig  = flag.String("config", "", "path to a yaml config file")
	flagEnvFile = flag.String("env-file", ".env", "optional .env file loaded before reading the environment")
)

func main() {
	flag.Parse()

	if *flagEnvFile != "" {
		if err := godotenv.Load(*flagEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fail("loading %s: %v", *flagEnvFile, err)
		}
	}

	config := must1(wallet.LoadConfig(*flagConfig))
	level := must1(wallet.ParseLogLevel(config.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	app := wallet.NewApp(logger, config)
	must(app.Start())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	app.Shutdown()
}

func must(err error) {
	if err != nil {
		fail("%v", err)
	}
}

func must1[T any](v T, err error) T {
	if err != nil {
		fail("%v", err)
	}
	return v
}

func fail(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
