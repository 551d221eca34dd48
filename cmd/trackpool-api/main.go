package main

import (
	"context"

	"github.com/joho/godotenv"
)

func main() {
	// Local development keeps configPath and friends in a .env file;
	// in containers the variables come from the environment directly.
	_ = godotenv.Load()

	app := mustBootstrap()
	defer app.Close()

	if err := app.Run(); err != nil && err != context.Canceled {
		panic(err)
	}
}
