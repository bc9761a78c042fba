package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"
)

const prompt = "tftp> "

type Cli struct {
	l          *zap.SugaredLogger
	tftpClient Connector
	in         io.Reader
	out        io.Writer
	// prompt is only printed for an interactive session
	interactive bool
}

func NewCli(l *zap.SugaredLogger, tftpClient Connector) *Cli {
	return &Cli{
		l:           l,
		tftpClient:  tftpClient,
		in:          os.Stdin,
		out:         os.Stdout,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// Read evaluates commands line by line until quit, end of input or ctx is done.
func (c *Cli) Read(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	evaluator := NewEvaluator(c.l, c.tftpClient, c.out)

	c.prompt()

	for scanner.Scan() {
		evaluator.line = scanner.Text()

		done, err := evaluator.evaluate(ctx)
		if err != nil {
			fmt.Fprintf(c.out, "%s\n", err.Error())
		}

		if done || ctx.Err() != nil {
			return nil
		}

		c.prompt()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error while reading commands: %w", err)
	}

	return nil
}

func (c *Cli) prompt() {
	if c.interactive {
		fmt.Fprint(c.out, prompt)
	}
}
