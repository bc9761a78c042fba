package client

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/Wa4h1h/tftp-engine/pkg/utils"
	"go.uber.org/zap"
)

var (
	getRegex       = "^get\\s+(\\S+)$"
	putRegex       = "^put\\s+(\\S+)$"
	timeoutRegex   = "^timeout\\s+(\\d+)$"
	blockSizeRegex = "^blksize\\s+(\\d+)$"
	modeRegex      = "^mode\\s+(\\S+)$"
	retriesRegex   = "^retries\\s+(\\d+)$"
	connectRegex   = "^connect\\s+(\\S+)\\s+(\\d+)$"
	traceRegex     = "^trace$"
	quitRegex      = "^quit$"
	helpRegex      = "^help$"
)

const helpText = `Commands:
	connect <host> <port>
	get <file>
	put <file>
	timeout <seconds>
	blksize <bytes>
	mode <octet|netascii>
	retries <integer>
	trace
	help
	quit`

type Evaluator struct {
	l             *zap.SugaredLogger
	client        Connector
	out           io.Writer
	line          string
	regexPatterns map[string]*regexp.Regexp
}

func NewEvaluator(l *zap.SugaredLogger, client Connector, out io.Writer) *Evaluator {
	e := &Evaluator{
		l:      l,
		client: client,
		out:    out,
	}

	e.regexPatterns = make(map[string]*regexp.Regexp)

	e.regexPatterns["get"] = regexp.MustCompile(getRegex)
	e.regexPatterns["put"] = regexp.MustCompile(putRegex)
	e.regexPatterns["timeout"] = regexp.MustCompile(timeoutRegex)
	e.regexPatterns["blksize"] = regexp.MustCompile(blockSizeRegex)
	e.regexPatterns["mode"] = regexp.MustCompile(modeRegex)
	e.regexPatterns["retries"] = regexp.MustCompile(retriesRegex)
	e.regexPatterns["connect"] = regexp.MustCompile(connectRegex)
	e.regexPatterns["trace"] = regexp.MustCompile(traceRegex)
	e.regexPatterns["quit"] = regexp.MustCompile(quitRegex)
	e.regexPatterns["help"] = regexp.MustCompile(helpRegex)

	return e
}

// evaluate runs the current line and reports whether the session should end.
func (e *Evaluator) evaluate(ctx context.Context) (bool, error) {
	e.line = strings.TrimSpace(e.line)

	if e.line == "" {
		return false, nil
	}

	if matches := e.regexPatterns["get"].FindStringSubmatch(e.line); len(matches) == 2 {
		return false, e.client.Get(ctx, matches[1])
	}

	if matches := e.regexPatterns["put"].FindStringSubmatch(e.line); len(matches) == 2 {
		return false, e.client.Put(ctx, matches[1])
	}

	if matches := e.regexPatterns["timeout"].FindStringSubmatch(e.line); len(matches) == 2 {
		n, err := parseUint(matches[1])
		if err != nil {
			return false, err
		}

		return false, e.client.SetTimeout(n)
	}

	if matches := e.regexPatterns["blksize"].FindStringSubmatch(e.line); len(matches) == 2 {
		n, err := parseUint(matches[1])
		if err != nil {
			return false, err
		}

		return false, e.client.SetBlockSize(n)
	}

	if matches := e.regexPatterns["retries"].FindStringSubmatch(e.line); len(matches) == 2 {
		n, err := parseUint(matches[1])
		if err != nil {
			return false, err
		}

		e.client.SetRetries(n)

		return false, nil
	}

	if matches := e.regexPatterns["mode"].FindStringSubmatch(e.line); len(matches) == 2 {
		return false, e.client.SetMode(matches[1])
	}

	if matches := e.regexPatterns["connect"].FindStringSubmatch(e.line); len(matches) == 3 {
		return false, e.client.Connect(fmt.Sprintf("%s:%s", matches[1], matches[2]))
	}

	if e.regexPatterns["trace"].MatchString(e.line) {
		if e.client.SetTrace() {
			fmt.Fprintln(e.out, "packet tracing on")
		} else {
			fmt.Fprintln(e.out, "packet tracing off")
		}

		return false, nil
	}

	if e.regexPatterns["help"].MatchString(e.line) {
		fmt.Fprintln(e.out, helpText)

		return false, nil
	}

	if e.regexPatterns["quit"].MatchString(e.line) {
		return true, nil
	}

	return false, fmt.Errorf("unknown command or arguments: %s", e.line)
}

func parseUint(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", utils.ErrInvalidCommandValue, s)
	}

	return uint(n), nil
}
