package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// h3Body closes the HTTP/3 transport together with the response body.
type h3Body struct {
	io.ReadCloser
	tr     *http3.Transport
	cancel context.CancelFunc
}

func (b *h3Body) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	b.tr.Close()
	return err
}

// fetchHTTP3 GETs u over HTTP/3. The body is read as a live stream.
func fetchHTTP3(ctx context.Context, u *url.URL, opts Options) (Input, error) {
	tr := &http3.Transport{
		TLSClientConfig: opts.TLSConfig,
		QUICConfig: &quic.Config{
			HandshakeIdleTimeout: opts.DialTimeout,
			MaxIdleTimeout:       30 * time.Second,
		},
	}
	// ctx bounds the request until the response arrives; the body is read
	// until Close.
	life, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	fail := func() {
		cancel()
		tr.Close()
	}

	req, err := http.NewRequestWithContext(life, http.MethodGet, u.String(), nil)
	if err != nil {
		stop()
		fail()
		return Input{}, fmt.Errorf("%w: %w", ErrInvalidData, err)
	}

	resp, err := (&http.Client{Transport: tr}).Do(req)
	if !stop() {
		if err == nil {
			resp.Body.Close()
		}
		fail()
		return Input{}, ctx.Err()
	}
	if err != nil {
		fail()
		if errors.Is(err, context.Canceled) {
			return Input{}, err
		}
		return Input{}, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	if err := classifyStatus(resp.StatusCode); err != nil {
		resp.Body.Close()
		fail()
		return Input{}, fmt.Errorf("%w: GET %s: %s", err, u.Redacted(), resp.Status)
	}
	return Input{URL: u, Reader: &h3Body{ReadCloser: resp.Body, tr: tr, cancel: cancel}, Live: true}, nil
}

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAccessDenied
	case code == http.StatusNotFound || code == http.StatusGone:
		return ErrNotFound
	}
	return ErrNetwork
}
