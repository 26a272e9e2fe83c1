package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kingpin/v2"
)

var (
	app = kingpin.New("storyguild-server", "Generation task scheduler for story entities")

	serveCmd = app.Command("serve", "Run the scheduler and HTTP API").Default()

	submitCmd    = app.Command("submit", "Submit a batch of generation tasks to a running server")
	submitFile   = submitCmd.Arg("file", "YAML or JSON batch file ({tasks: [...]})").Required().ExistingFile()
	submitServer = submitCmd.Flag("server", "Server base URL").Envar("STORYGUILD_SERVER_URL").Default("http://localhost:3200").String()
	submitAPIKey = submitCmd.Flag("api-key", "API key").Envar("STORYGUILD_API_KEY").Required().String()
	submitWait   = submitCmd.Flag("wait", "Poll until every submitted task settles").Bool()
)

func main() {
	var err error
	switch kingpin.MustParse(app.Parse(os.Args[1:])) {
	case serveCmd.FullCommand():
		err = serve()
	case submitCmd.FullCommand():
		err = submit(*submitServer, *submitAPIKey, *submitFile, *submitWait)
	}
	if err != nil {
		slog.Error("storyguild-server failed", "error", err)
		os.Exit(1)
	}
}
