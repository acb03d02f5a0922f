package source

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures batch file retrieval over FTP. Credentials in the
// URL take precedence over User and Password.
type FTPOptions struct {
	Timeout  time.Duration
	User     string
	Password string
}

// FTPClient downloads batch files over FTP.
type FTPClient struct {
	opts FTPOptions
}

// NewFTPClient creates an FTPClient, defaulting to a 30s timeout and
// anonymous login.
func NewFTPClient(opts FTPOptions) *FTPClient {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.User == "" {
		opts.User, opts.Password = "anonymous", "anonymous@"
	}
	return &FTPClient{opts: opts}
}

type ftpTarget struct {
	host, path, user, password string
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	t, err := parseTarget(rawURL)
	return t.host, t.path, err
}

func parseTarget(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}
	if u.Path == "" {
		return ftpTarget{}, eris.New("empty path in ftp url")
	}

	t := ftpTarget{host: u.Host, path: u.Path}
	if _, _, splitErr := net.SplitHostPort(t.host); splitErr != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	if u.User != nil {
		t.user = u.User.Username()
		t.password, _ = u.User.Password()
	}
	return t, nil
}

// ftpConnReader closes the FTP response and the control connection together.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "close ftp response")
	}
	return eris.Wrap(quitErr, "quit ftp connection")
}

// Download retrieves the file at ftpURL. The caller must close the reader to
// release the connection.
func (c *FTPClient) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	t, err := parseTarget(ftpURL)
	if err != nil {
		return nil, err
	}
	user, password := c.opts.User, c.opts.Password
	if t.user != "" {
		user, password = t.user, t.password
	}

	zap.L().Debug("ftp: connecting", zap.String("host", t.host), zap.String("path", t.path))

	conn, err := ftp.Dial(t.host, ftp.DialWithTimeout(c.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "ftp dial")
	}
	if err := conn.Login(user, password); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "ftp login")
	}
	resp, err := conn.Retr(t.path)
	if err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "ftp retrieve")
	}
	return &ftpConnReader{resp: resp, conn: conn}, nil
}

// DownloadToFile writes the file at ftpURL to path and returns bytes written.
func (c *FTPClient) DownloadToFile(ctx context.Context, ftpURL string, path string) (int64, error) {
	rc, err := c.Download(ctx, ftpURL)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, rc)
	return n, eris.Wrap(err, "write file")
}
