package main

import (
	"github.com/walbarellos/Sentinela/internal/server"
	"github.com/walbarellos/Sentinela/internal/util"
	"github.com/walbarellos/Sentinela/pkg/logger"
	"github.com/walbarellos/Sentinela/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
