package main

import (
	"github.com/joho/godotenv"

	chatfilm "chatfilm/app"
)

func main() {
	// .env is optional; real environment variables win either way
	godotenv.Load()

	app := chatfilm.New(nil, nil)
	app.Start()
}
