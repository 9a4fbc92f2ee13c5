package fetcher

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"

	"github.com/laborwatch/compliance-cli/internal/resilience"
)

// ftpTimeout bounds dial and transfer; several state agencies still publish
// wage tables on plain FTP drops.
const ftpTimeout = 60 * time.Second

// FetchFTP downloads ftp://host/path into memory. Anonymous login unless the
// URL carries credentials.
func FetchFTP(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse ftp url %s", rawURL)
	}

	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}

	conn, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(ftpTimeout))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "fetcher: ftp dial %s", host), 0)
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
		return nil, eris.Wrapf(err, "fetcher: ftp login %s", host)
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "fetcher: ftp retr %s", u.Path), 0)
	}
	defer resp.Close() //nolint:errcheck

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: ftp read"), 0)
	}
	return data, nil
}
