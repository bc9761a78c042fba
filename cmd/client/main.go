package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wa4h1h/tftp-engine/pkg/client"
	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

var (
	logLevel  = utils.GetEnv[string]("TFTP_LOG_LEVEL", "info", false)
	numTries  = utils.GetEnv[uint]("TFTP_NUM_TRIES", "5", false)
	timeout   = utils.GetEnv[uint]("TFTP_TIMEOUT", "5", false)
	blockSize = utils.GetEnv[uint]("TFTP_BLKSIZE", "512", false)
	server    = utils.GetEnv[string]("TFTP_SERVER", "", false)
)

func main() {
	l := utils.NewLogger(logLevel).Sugar()

	defer func() {
		_ = l.Sync()
	}()

	c := client.NewClient(l, numTries)

	defer func(client client.Connector) {
		if err := client.Close(); err != nil {
			l.Error(err.Error())
		}
	}(c)

	if err := c.SetTimeout(timeout); err != nil {
		l.Fatal(err.Error())
	}

	if err := c.SetBlockSize(blockSize); err != nil {
		l.Fatal(err.Error())
	}

	if server != "" {
		if err := c.Connect(server); err != nil {
			l.Error(err.Error())
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// a second interrupt terminates the process
	go func() {
		<-ctx.Done()
		stop()
	}()

	if err := client.NewCli(l, c).Read(ctx); err != nil {
		l.Error(err.Error())
	}
}
