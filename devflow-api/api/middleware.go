package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// errBodyTooLarge reports a request body over the size its route accepts.
var errBodyTooLarge = errors.New("request body too large")

// routeBodyLimit is the most a route may read from a request body after
// decompression. Snippets carry whole files; everything else is commands.
func routeBodyLimit(method, route string) int64 {
	if method == http.MethodPost && route == "/api/snippets" {
		return recordMaxSize
	}
	return postCommandMaxSize
}

// DecompressRequests inflates gzip request bodies and caps every body at its
// route's limit, so a small compressed payload cannot expand past what the
// handler would accept in plain form. A declared length over the limit is
// refused before anything is read. Registered with e.Use, it runs after
// routing and sees the matched route pattern.
func DecompressRequests() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			limit := routeBodyLimit(req.Method, c.Path())
			if req.ContentLength > limit {
				_ = req.Body.Close()
				log.WithFields(log.Fields{
					"route":          c.Path(),
					"content_length": req.ContentLength,
					"limit":          limit,
				}).Warn("request body over route limit")
				return c.String(http.StatusRequestEntityTooLarge, errBodyTooLarge.Error())
			}

			body := req.Body
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				req.Body = &limitedBody{r: body, closers: []io.Closer{body}, remaining: limit}
				return next(c)
			}

			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return c.String(http.StatusBadRequest, "invalid gzip body")
			}
			req.Body = &limitedBody{r: gr, closers: []io.Closer{gr, body}, remaining: limit}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

// limitedBody hands out at most remaining bytes. A body that keeps going past
// the cap fails with errBodyTooLarge and records it in exceeded, since JSON
// decoders do not always surface the reader's own error.
type limitedBody struct {
	r         io.Reader
	closers   []io.Closer
	remaining int64
	exceeded  bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.exceeded {
		return 0, errBodyTooLarge
	}
	if b.remaining <= 0 {
		var extra [1]byte
		n, err := b.r.Read(extra[:])
		if n > 0 {
			b.exceeded = true
			return 0, errBodyTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.r.Read(p)
	b.remaining -= int64(n)
	return n, err
}

func (b *limitedBody) Close() error {
	var err error
	for _, cl := range b.closers {
		if cerr := cl.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// overLimit reports whether r, or the capped body it wraps, hit its cap.
func overLimit(readers ...io.Reader) bool {
	for _, r := range readers {
		if lb, ok := r.(*limitedBody); ok && lb.exceeded {
			return true
		}
	}
	return false
}

// bodyError answers a request whose body decodeBody rejected.
func bodyError(c echo.Context, err error) error {
	if errors.Is(err, errBodyTooLarge) {
		return c.String(http.StatusRequestEntityTooLarge, errBodyTooLarge.Error())
	}
	return c.String(http.StatusBadRequest, "invalid body")
}
