package transport

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/jlaffaye/ftp"
)

// FTP uploads the artifact itself; legacy labels still pull DSR files off an
// FTP drop.
type FTP struct {
	dial func(ctx context.Context, addr string) (ftpConn, error)
}

// ftpConn is the slice of *ftp.ServerConn the transport uses.
type ftpConn interface {
	Login(user, password string) error
	Stor(path string, r *bytes.Reader) error
	Quit() error
}

type serverConn struct{ *ftp.ServerConn }

func (c serverConn) Stor(path string, r *bytes.Reader) error {
	return c.ServerConn.Stor(path, r)
}

func NewFTP() *FTP {
	return &FTP{
		dial: func(ctx context.Context, addr string) (ftpConn, error) {
			conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(dialTimeout))
			if err != nil {
				return nil, err
			}
			return serverConn{conn}, nil
		},
	}
}

func (f *FTP) Name() string { return "ftp" }

func (f *FTP) Send(ctx context.Context, a Artifact) error {
	dest := a.Report.DestinationSpec()
	host := dest.Settings["host"]
	if host == "" {
		return fmt.Errorf("ftp transport: destination has no host")
	}

	conn, err := f.dial(ctx, host)
	if err != nil {
		return fmt.Errorf("ftp transport: dial %s: %w", host, err)
	}
	defer conn.Quit()

	if user := dest.Settings["username"]; user != "" {
		if err := conn.Login(user, dest.Settings["password"]); err != nil {
			return fmt.Errorf("ftp transport: login: %w", err)
		}
	}

	remote := path.Base(a.Report.ObjectKey)
	if dir := dest.Settings["path"]; dir != "" {
		remote = path.Join(dir, remote)
	}
	if err := conn.Stor(remote, bytes.NewReader(a.Payload)); err != nil {
		return fmt.Errorf("ftp transport: store %s: %w", remote, err)
	}
	return nil
}
