package utils

import (
	"io"

	"go.uber.org/multierr"
	"pack.ag/tftp/netascii"
)

type flusher interface {
	Flush() error
}

type netASCIIReader struct {
	pr  *io.PipeReader
	src io.Closer
}

// NewNetASCIIReader returns a reader producing the netascii encoding of src.
// Closing it closes src.
//
// A local "\r\n" is sent as a plain netascii line end, so it decodes to "\n"
// on the other side. Files with CRLF line ends do not survive a round trip
// byte for byte.
func NewNetASCIIReader(src io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		var w io.Writer = netascii.NewWriter(pw)

		_, err := io.Copy(w, src)
		if f, ok := w.(flusher); ok && err == nil {
			err = f.Flush()
		}

		pw.CloseWithError(err)
	}()

	return &netASCIIReader{pr: pr, src: src}
}

func (r *netASCIIReader) Read(p []byte) (int, error) {
	return r.pr.Read(p)
}

func (r *netASCIIReader) Close() error {
	return multierr.Append(r.pr.Close(), r.src.Close())
}

type netASCIIWriter struct {
	pw   *io.PipeWriter
	done chan error
}

// NewNetASCIIWriter returns a writer that decodes netascii into dst.
// Close waits until every decoded byte reached dst and closes it.
func NewNetASCIIWriter(dst io.WriteCloser) io.WriteCloser {
	pr, pw := io.Pipe()
	w := &netASCIIWriter{pw: pw, done: make(chan error, 1)}

	go func() {
		_, err := io.Copy(dst, netascii.NewReader(pr))
		pr.CloseWithError(err)

		w.done <- multierr.Append(err, dst.Close())
	}()

	return w
}

func (w *netASCIIWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *netASCIIWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}

	return <-w.done
}
