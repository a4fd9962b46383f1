package main

import (
	"indication-validation-service/internal/app/server"
	"indication-validation-service/internal/config"
)

func main() {
	cfg := config.Load()
	server.Run(cfg)
}
