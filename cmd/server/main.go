package main

import (
	"github.com/murre-ai/murre/internal/server"
	"github.com/murre-ai/murre/internal/util"
	"github.com/murre-ai/murre/pkg/logger"
	"github.com/murre-ai/murre/pkg/logger/console"
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
