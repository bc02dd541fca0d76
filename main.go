/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima/engine"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/testbed"
)

func main() {
	configPath := flag.String("config", "", "path to an anima.toml file")
	driverName := flag.String("driver", "", "override the configured driver (vulkan, soft)")
	out := flag.String("out", "clear.bmp", "where to write the cleared render target")
	in := flag.String("in", "", "optional image to upload and copy between textures")
	flag.Parse()

	cfg := core.DefaultConfig()
	if *configPath != "" {
		c, err := core.LoadConfig(*configPath)
		if err != nil {
			core.LogFatal("config: %s", err)
		}
		cfg = c
	}
	if *driverName != "" {
		cfg.Driver = *driverName
	}

	e, err := engine.New(cfg)
	if err != nil {
		core.LogFatal("%s", err.Error())
	}
	if err := e.Initialize(); err != nil {
		core.LogFatal("%s", err.Error())
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// start shutdown goroutine
	go func() {
		// capture sigterm and other system call here
		<-sigCh
		_ = e.Shutdown()
		os.Exit(1)
	}()

	res, err := testbed.Run(e.Device(), testbed.Options{Input: *in, Output: *out})
	if err != nil {
		_ = e.Shutdown()
		core.LogFatal("%s", err.Error())
	}
	core.LogInfo("%d command buffers submitted, %d completed", res.Submitted, res.Completed)
	if err := e.Shutdown(); err != nil {
		core.LogFatal("%s", err.Error())
	}
}
