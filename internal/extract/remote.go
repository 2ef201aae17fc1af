package extract

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
)

var httpClient = &http.Client{Timeout: 2 * time.Minute}

// fetchHTTP downloads a remote extract to a temp file and returns its path
// plus a cleanup func.
func fetchHTTP(ctx context.Context, rawURL string) (string, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, eris.Wrapf(err, "extract: create request for %s", rawURL)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", nil, eris.Wrapf(err, "extract: fetch %s", rawURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", nil, eris.Errorf("extract: fetch %s: status %d", rawURL, resp.StatusCode)
	}

	return spool(resp.Body, rawURL)
}

// fetchFTP downloads an ftp:// extract to a temp file. Bulk extract drops
// from the portal's export queue land on an FTP share.
func fetchFTP(ctx context.Context, rawURL string) (string, func(), error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, eris.Wrapf(err, "extract: parse ftp url %s", rawURL)
	}

	host := u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	conn, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return "", nil, eris.Wrapf(err, "extract: ftp dial %s", host)
	}
	defer conn.Quit() //nolint:errcheck

	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return "", nil, eris.Wrapf(err, "extract: ftp login %s", host)
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return "", nil, eris.Wrapf(err, "extract: ftp retrieve %s", u.Path)
	}
	defer resp.Close() //nolint:errcheck

	return spool(resp, rawURL)
}

func spool(r io.Reader, rawURL string) (string, func(), error) {
	ext := filepath.Ext(rawURL)
	f, err := os.CreateTemp("", "listpull-extract-*"+ext)
	if err != nil {
		return "", nil, eris.Wrap(err, "extract: create temp file")
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()           //nolint:errcheck
		os.Remove(f.Name()) //nolint:errcheck
		return "", nil, eris.Wrapf(err, "extract: download %s", rawURL)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name()) //nolint:errcheck
		return "", nil, eris.Wrap(err, "extract: close temp file")
	}

	path := f.Name()
	return path, func() { os.Remove(path) }, nil //nolint:errcheck
}
