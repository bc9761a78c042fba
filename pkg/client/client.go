package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Wa4h1h/tftp-engine/pkg/channel"
	"github.com/Wa4h1h/tftp-engine/pkg/options"
	"github.com/Wa4h1h/tftp-engine/pkg/transfer"
	"github.com/Wa4h1h/tftp-engine/pkg/types"
	"github.com/Wa4h1h/tftp-engine/pkg/utils"
	"go.uber.org/zap"
)

type Connector interface {
	Connect(addr string) error
	Get(ctx context.Context, filename string) error
	Put(ctx context.Context, filename string) error
	SetTimeout(seconds uint) error
	SetTrace() bool
	SetBlockSize(size uint) error
	SetMode(mode string) error
	SetRetries(n uint)
	Close() error
}

type Client struct {
	l         *zap.SugaredLogger
	addr      string
	localDir  string
	timeout   time.Duration
	blockSize int
	mode      types.Mode
	retries   int
	trace     bool

	scheduler *transfer.Scheduler
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

var _ Connector = (*Client)(nil)

func NewClient(l *zap.SugaredLogger, numTries uint) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		l:         l,
		localDir:  ".",
		timeout:   time.Duration(options.DefaultTimeout) * time.Second,
		blockSize: options.DefaultBlockSize,
		mode:      types.ModeOctet,
		retries:   int(numTries),
		scheduler: transfer.NewScheduler(transfer.DefaultTickInterval),
		stop:      cancel,
	}

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		c.scheduler.Run(ctx)
	}()

	return c
}

// SetLocalDir sets where downloads are stored and relative uploads are read from.
func (c *Client) SetLocalDir(dir string) {
	c.localDir = dir
}

func (c *Client) SetTimeout(seconds uint) error {
	if !options.ValidTimeout(int(seconds)) {
		return fmt.Errorf("%w: timeout must be between %d and %d seconds",
			utils.ErrInvalidCommandValue, options.MinTimeout, options.MaxTimeout)
	}

	c.timeout = time.Duration(seconds) * time.Second

	return nil
}

func (c *Client) SetBlockSize(size uint) error {
	if !options.ValidBlockSize(int(size)) {
		return fmt.Errorf("%w: block size must be between %d and %d bytes",
			utils.ErrInvalidCommandValue, options.MinBlockSize, options.MaxBlockSize)
	}

	c.blockSize = int(size)

	return nil
}

func (c *Client) SetMode(mode string) error {
	m := types.Mode(strings.ToLower(mode))
	if m != types.ModeOctet && m != types.ModeNetASCII {
		return fmt.Errorf("%w: %s", utils.ErrUnsupportedMode, mode)
	}

	c.mode = m

	return nil
}

func (c *Client) SetRetries(n uint) {
	c.retries = int(n)
}

// SetTrace toggles packet tracing and returns the new setting.
func (c *Client) SetTrace() bool {
	c.trace = !c.trace

	return c.trace
}

func (c *Client) Connect(addr string) error {
	if _, err := net.ResolveUDPAddr("udp", addr); err != nil {
		return fmt.Errorf("error while resolving %s: %w", addr, err)
	}

	c.addr = addr

	return nil
}

func (c *Client) Close() error {
	c.stop()
	c.wg.Wait()

	return nil
}

// Get downloads filename into the local directory. A partially downloaded
// file is removed when the transfer fails.
func (c *Client) Get(ctx context.Context, filename string) error {
	if c.addr == "" {
		return utils.ErrNotConnected
	}

	local := filepath.Join(c.localDir, filepath.Base(filename))

	f, err := os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", utils.ErrLocalFileExists, local)
		}

		return fmt.Errorf("error while creating %s: %w", local, err)
	}

	var dst io.WriteCloser = f
	if c.mode == types.ModeNetASCII {
		dst = utils.NewNetASCIIWriter(f)
	}

	err = c.get(ctx, filename, dst)
	if err != nil {
		if errR := os.Remove(local); errR != nil {
			c.l.Errorf("error while removing %s: %s", local, errR.Error())
		}

		return fmt.Errorf("error while getting %s: %w", filename, err)
	}

	return nil
}

func (c *Client) get(ctx context.Context, filename string, dst io.WriteCloser) error {
	ch, err := channel.Dial("udp", c.addr, c.l)
	if err != nil {
		_ = dst.Close()

		return err
	}

	t := transfer.NewLocalRead(ch, filename, transfer.WithLogger(c.l), transfer.WithTrace(c.trace))

	if err := c.configure(t); err != nil {
		_ = dst.Close()
		_ = t.Dispose()

		return err
	}

	return c.run(ctx, t.Transfer, func() error { return t.Start(dst) })
}

// Put uploads filename under its base name.
func (c *Client) Put(ctx context.Context, filename string) error {
	if c.addr == "" {
		return utils.ErrNotConnected
	}

	local := filename
	if !filepath.IsAbs(local) {
		local = filepath.Join(c.localDir, local)
	}

	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("error while opening %s: %w", local, err)
	}

	var src io.ReadCloser = f
	if c.mode == types.ModeNetASCII {
		src = utils.NewNetASCIIReader(f)
	}

	if err := c.put(ctx, filepath.Base(filename), src); err != nil {
		return fmt.Errorf("error while putting %s: %w", filename, err)
	}

	return nil
}

func (c *Client) put(ctx context.Context, remote string, src io.ReadCloser) error {
	ch, err := channel.Dial("udp", c.addr, c.l)
	if err != nil {
		_ = src.Close()

		return err
	}

	t := transfer.NewLocalWrite(ch, remote, transfer.WithLogger(c.l), transfer.WithTrace(c.trace))

	if err := c.configure(t); err != nil {
		_ = src.Close()
		_ = t.Dispose()

		return err
	}

	return c.run(ctx, t.Transfer, func() error { return t.Start(src) })
}

// settings are the knobs shared by LocalRead and LocalWrite.
type settings interface {
	SetMode(m types.Mode) error
	SetBlockSize(n int) error
	SetTimeout(d time.Duration) error
	SetRetryCount(n int) error
}

func (c *Client) configure(s settings) error {
	if err := s.SetMode(c.mode); err != nil {
		return err
	}

	if err := s.SetBlockSize(c.blockSize); err != nil {
		return err
	}

	if err := s.SetTimeout(c.timeout); err != nil {
		return err
	}

	return s.SetRetryCount(c.retries)
}

// run starts t and blocks until it ends. Cancelling ctx cancels the transfer.
func (c *Client) run(ctx context.Context, t *transfer.Transfer, start func() error) error {
	c.scheduler.Add(t)
	defer c.scheduler.Remove(t)

	go c.logProgress(t)

	if err := start(); err != nil {
		return err
	}

	select {
	case <-t.Done():
	case <-ctx.Done():
		t.Cancel(types.NewError(types.ErrNotDefined, "transfer cancelled by user"))
		<-t.Done()
	}

	if err := t.Err(); err != nil {
		return err
	}

	c.l.Infof("transferred %s", t.Filename())

	return nil
}

func (c *Client) logProgress(t *transfer.Transfer) {
	for p := range t.Progress() {
		if p.Expected >= 0 {
			c.l.Debugf("%s: %d/%d bytes", t.Filename(), p.Transferred, p.Expected)

			continue
		}

		c.l.Debugf("%s: %d bytes", t.Filename(), p.Transferred)
	}
}
