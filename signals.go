package frontdoor

import (
	"context"
	"fmt"
	"syscall"

	"github.com/One-com/gone/log"
	"github.com/One-com/gone/sd"
	"github.com/One-com/gone/signals"

	"github.com/One-com/frontdoor/config"
)

func init() {
	// Default to a simple systemd compatible log on stdout
	log.Minimal()
}

// SignalMappings returns the default OS signal handling for c.
// exit is called after the controller has been stopped on SIGINT or SIGTERM.
//
//	SIGINT, SIGTERM: Stop and exit.
//	SIGHUP: Stop and start again from src, re-reading the configuration.
//	        exit is called if the new start fails.
//	SIGTTIN: Increase log level
//	SIGTTOU: Decrease log level
//	SIGUSR1: Reopen all access log files.
//
// Run them with signals.RunSignalHandler.
func (c *Controller) SignalMappings(src config.Source, exit func()) signals.Mappings {
	onExit := func() {
		log.Println("Signal Exit")
		sd.Notify(0, "STOPPING=1")
		c.Stop(context.Background())
		exit()
	}
	return signals.Mappings{
		syscall.SIGINT:  onExit,
		syscall.SIGTERM: onExit,
		syscall.SIGHUP: func() {
			log.Println("Signal Reload")
			sd.Notify(0, "RELOADING=1")
			if err := c.Restart(context.Background(), src); err != nil {
				log.CRIT("Restart failed, exiting", "err", err)
				sd.Notify(0, "STOPPING=1")
				exit()
				return
			}
			sd.Notify(0, "READY=1")
		},
		syscall.SIGTTIN: func() {
			log.IncLevel()
			log.Print(fmt.Sprintf("Log level: %d", log.Level()))
		},
		syscall.SIGTTOU: func() {
			log.DecLevel()
			log.Print(fmt.Sprintf("Log level: %d", log.Level()))
		},
		syscall.SIGUSR1: ReopenAccessLogFiles,
	}
}
