package main

import (
	"polibrief/cmd/handlers"
	"polibrief/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
