package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/Wa4h1h/tftp-engine/pkg/channel"
	"github.com/Wa4h1h/tftp-engine/pkg/options"
	"github.com/Wa4h1h/tftp-engine/pkg/transfer"
	"github.com/Wa4h1h/tftp-engine/pkg/types"
	"github.com/Wa4h1h/tftp-engine/pkg/utils"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Config struct {
	Port       string
	BaseDir    string
	NumTries   int
	WrapAround transfer.WrapAround
	Trace      bool
}

// Server answers RRQ and WRQ on Port with one transfer per request, each on
// its own ephemeral port.
type Server struct {
	cfg       Config
	logger    *zap.SugaredLogger
	conn      net.PacketConn
	scheduler *transfer.Scheduler

	mu        sync.Mutex
	transfers map[*transfer.Transfer]struct{}
	closed    bool
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

func NewServer(l *zap.SugaredLogger, cfg Config) *Server {
	if cfg.NumTries < 0 {
		cfg.NumTries = transfer.DefaultRetryCount
	}

	return &Server{
		cfg:       cfg,
		logger:    l,
		scheduler: transfer.NewScheduler(transfer.DefaultTickInterval),
		transfers: make(map[*transfer.Transfer]struct{}),
	}
}

func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}

	return s.Serve()
}

// Listen binds the request port. Port "0" picks a free one, see Addr.
func (s *Server) Listen() error {
	l := net.ListenConfig{
		Control: controlReusePort(),
	}

	conn, err := l.ListenPacket(context.Background(), "udp", fmt.Sprintf(":%s", s.cfg.Port))
	if err != nil {
		s.logger.Error(err.Error())

		return utils.ErrStartingServer
	}

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.conn = conn
	s.stop = cancel
	s.mu.Unlock()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.scheduler.Run(ctx)
	}()

	return nil
}

// Serve reads requests until Close is called.
func (s *Server) Serve() error {
	datagram := make([]byte, types.MaxDatagramSize)

	for {
		n, addr, err := s.conn.ReadFrom(datagram)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			return fmt.Errorf("error while reading request: %w", err)
		}

		if n > 0 {
			packet := make([]byte, n)
			copy(packet, datagram[:n])

			go s.handlePacket(addr, packet)
		}
	}
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	return s.conn.LocalAddr()
}

// Close stops accepting requests and disposes every running transfer.
func (s *Server) Close() error {
	s.mu.Lock()
	conn, stop := s.conn, s.stop
	s.closed = true
	running := make([]*transfer.Transfer, 0, len(s.transfers))

	for t := range s.transfers {
		running = append(running, t)
	}
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	var err error

	if errC := conn.Close(); errC != nil && !errors.Is(errC, net.ErrClosed) {
		err = multierr.Append(err, fmt.Errorf("error while closing connection: %w", errC))
	}

	for _, t := range running {
		err = multierr.Append(err, t.Dispose())
	}

	stop()
	s.wg.Wait()

	return err
}

func (s *Server) handlePacket(addr net.Addr, datagram []byte) {
	cmd, err := types.Parse(datagram)

	req, ok := cmd.(*types.Request)
	if err != nil || !ok {
		s.logger.Debugf("rejecting packet from %s: %v", addr, err)

		illegal := types.NewError(types.ErrIllegalTftpOp, "server only accepts read and write requests")
		if err := sendErrorPacket(s.conn, addr, illegal); err != nil {
			s.logger.Errorf("error while responding to %s: %s", addr, err.Error())
		}

		return
	}

	if s.cfg.Trace {
		s.logger.Debugf("received <-- %s from %s", req, addr)
	}

	ch, err := channel.Connect(addr, s.logger)
	if err != nil {
		s.logger.Errorf("error while opening transfer channel to %s: %s", addr, err.Error())

		return
	}

	mode := types.Mode(strings.ToLower(string(req.Mode)))
	if mode != types.ModeOctet && mode != types.ModeNetASCII {
		s.reject(ch, notDefinedError(fmt.Sprintf("unsupported mode %s", req.Mode)))

		return
	}

	path, err := utils.ResolvePath(s.cfg.BaseDir, req.Filename)
	if err != nil {
		s.reject(ch, types.NewError(types.ErrAccessViolation, "access violation"))

		return
	}

	switch req.Opcode {
	case types.OpCodeRRQ:
		s.serveRead(ch, req, mode, path)
	case types.OpCodeWRQ:
		s.serveWrite(ch, req, mode, path)
	}
}

// reject answers from the transfer's own port and drops the channel.
func (s *Server) reject(ch *channel.UDP, e *types.Error) {
	if err := ch.Send(e); err != nil {
		s.logger.Errorf("error while responding to %s: %s", ch.RemoteAddr(), err.Error())
	}

	if err := ch.Close(); err != nil {
		s.logger.Error(err.Error())
	}
}

func (s *Server) serveRead(ch *channel.UDP, req *types.Request, mode types.Mode, path string) {
	f, err := os.Open(path)
	if err != nil {
		s.reject(ch, fileError(err, req.Filename))

		return
	}

	if fi, err := f.Stat(); err != nil || !fi.Mode().IsRegular() {
		_ = f.Close()
		s.reject(ch, types.NewError(types.ErrAccessViolation, "%s is not a regular file", req.Filename))

		return
	}

	var src io.ReadCloser = f
	if mode == types.ModeNetASCII {
		src = utils.NewNetASCIIReader(f)
	}

	rr := transfer.NewRemoteRead(ch, req.Filename, mode, options.Parse(req.Options), s.transferOptions()...)
	if err := s.configure(rr.SetRetryCount, rr.SetWrapAround); err != nil {
		_ = src.Close()
		s.reject(ch, notDefinedError("server misconfigured"))

		return
	}

	s.run(rr.Transfer, func() error { return closeUnclaimed(src, rr.Start(src)) }, nil)
}

func (s *Server) serveWrite(ch *channel.UDP, req *types.Request, mode types.Mode, path string) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		s.reject(ch, fileError(err, req.Filename))

		return
	}

	var dst io.WriteCloser = f
	if mode == types.ModeNetASCII {
		dst = utils.NewNetASCIIWriter(f)
	}

	// partial uploads are not kept
	cleanup := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Errorf("error while removing partial upload %s: %s", path, err.Error())
		}
	}

	rw := transfer.NewRemoteWrite(ch, req.Filename, mode, options.Parse(req.Options), s.transferOptions()...)
	if err := s.configure(rw.SetRetryCount, rw.SetWrapAround); err != nil {
		_ = dst.Close()
		cleanup()
		s.reject(ch, notDefinedError("server misconfigured"))

		return
	}

	s.run(rw.Transfer, func() error { return closeUnclaimed(dst, rw.Start(dst)) }, cleanup)
}

func (s *Server) transferOptions() []transfer.Option {
	return []transfer.Option{
		transfer.WithLogger(s.logger),
		transfer.WithTrace(s.cfg.Trace),
	}
}

func (s *Server) configure(setRetries func(int) error, setWrap func(transfer.WrapAround) error) error {
	return multierr.Append(setRetries(s.cfg.NumTries), setWrap(s.cfg.WrapAround))
}

// run starts t and tracks it until it ends. onFailure runs after the stream
// was closed when the transfer did not finish.
func (s *Server) run(t *transfer.Transfer, start func() error, onFailure func()) {
	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.transfers[t] = struct{}{}
	}
	s.mu.Unlock()

	s.scheduler.Add(t)

	if err := start(); err != nil {
		s.logger.Errorf("error while starting transfer of %s: %s", t.Filename(), err.Error())
	}

	// the server shut down while this request was being prepared
	if closed {
		if err := t.Dispose(); err != nil {
			s.logger.Error(err.Error())
		}
	}

	<-t.Done()

	s.scheduler.Remove(t)

	s.mu.Lock()
	delete(s.transfers, t)
	s.mu.Unlock()

	if err := t.Err(); err != nil {
		s.logger.Errorf("transfer of %s failed: %s", t.Filename(), err.Error())

		if onFailure != nil {
			onFailure()
		}

		return
	}

	s.logger.Infof("transfer of %s done", t.Filename())
}

// closeUnclaimed closes c when Start refused the transfer before taking over the stream.
func closeUnclaimed(c io.Closer, err error) error {
	if errors.Is(err, transfer.ErrInvalidOperation) {
		_ = c.Close()
	}

	return err
}

func fileError(err error, filename string) *types.Error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return types.NewError(types.ErrFileNotFound, "%s not found", filename)
	case errors.Is(err, fs.ErrExist):
		return types.NewError(types.ErrFileAlreadyExists, "%s already exists", filename)
	case errors.Is(err, fs.ErrPermission):
		return types.NewError(types.ErrAccessViolation, "access to %s denied", filename)
	default:
		return notDefinedError("can not open " + filename)
	}
}
