package main

import (
	"github.com/joho/godotenv"

	"github.com/lobbystats/epicauth/api/cmd/epicauth"
)

func main() {
	_ = godotenv.Load()
	epicauth.Execute()
}
