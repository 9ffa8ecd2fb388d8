/*
Runs the sonar testbed on the headless device. The settings come from
sonar.toml in the working directory unless -config says otherwise.
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/sonar/engine"
	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/testbed"
)

func main() {
	configPath := flag.String("config", engine.DefaultConfigFile, "path to the application config")
	frames := flag.Uint64("frames", 0, "stop after this many frames, overrides application.max_frames")
	flag.Parse()

	config, err := engine.LoadApplicationConfig(*configPath)
	if err != nil {
		core.LogFatal(err.Error())
	}
	if *frames > 0 {
		config.Application.MaxFrames = *frames
	}

	tb, err := testbed.NewTestGame(config)
	if err != nil {
		core.LogFatal(err.Error())
	}

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal(err.Error())
	}

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal(err.Error())
	}

	// capture sigterm and other system calls here
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil {
		core.LogError(err.Error())
	}
	if runErr != nil {
		core.LogFatal(runErr.Error())
	}
}
