package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/Wa4h1h/tftp-engine/pkg/server"
	"github.com/Wa4h1h/tftp-engine/pkg/transfer"
	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

var (
	tftpPort    = utils.GetEnv[string]("TFTP_PORT", "69", false)
	logLevel    = utils.GetEnv[string]("LOG_LEVEL", "info", false)
	numTries    = utils.GetEnv[uint]("NUM_TRIES", "5", false)
	tftpBaseDir = utils.GetEnv[string]("TFTP_BASE_DIR", "", false)
	wrapToOne   = utils.GetEnv[bool]("TFTP_WRAP_TO_ONE", "false", false)
	trace       = utils.GetEnv[bool]("TFTP_TRACE", "false", false)
)

func main() {
	l := utils.NewLogger(logLevel).Sugar()

	defer func() {
		_ = l.Sync()
	}()

	if tftpBaseDir == "" {
		tftpBaseDir = utils.UserHomeDirPath()
	}

	cfg := server.Config{
		Port:       tftpPort,
		BaseDir:    tftpBaseDir,
		NumTries:   int(numTries),
		WrapAround: transfer.WrapToZero,
		Trace:      trace,
	}

	if wrapToOne {
		cfg.WrapAround = transfer.WrapToOne
	}

	s := server.NewServer(l, cfg)

	go func() {
		if err := s.ListenAndServe(); err != nil {
			l.Error(err.Error())
		}
	}()

	l.Infof("listening on port %s, serving %s", tftpPort, tftpBaseDir)

	defer func() {
		if err := s.Close(); err != nil {
			l.Error(err.Error())
		}

		l.Infof("closed connection on port %s", tftpPort)
	}()

	// listen shutdown signal
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	<-signalChan
}
