// Package clients talks to the HTTP oracle services: voice activity
// detection, speaker embedding and source separation.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/stream-polyglot/voiceline/metrics"
)

// ErrStatus matches any *StatusError with errors.Is.
var ErrStatus = errors.New("unexpected status")

// StatusError is a non-200 reply from a service.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %d %s: %s", e.Service, e.Code, http.StatusText(e.Code), e.Body)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// HTTP is the shared transport. Transport failures and 5xx replies are
// retried up to MaxRetries times with exponential backoff.
type HTTP struct {
	c          *http.Client
	maxRetries int
	log        logrus.FieldLogger
	metrics    *metrics.Recorder
}

func NewHTTP(timeout time.Duration, maxRetries int, log logrus.FieldLogger, rec *metrics.Recorder) *HTTP {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTP{
		c:          &http.Client{Timeout: timeout},
		maxRetries: max(0, maxRetries),
		log:        log.WithField("component", "clients"),
		metrics:    rec,
	}
}

// do sends the request built by newReq and decodes a JSON reply into out
// (skipped when out is nil). newReq is called once per attempt.
func (h *HTTP) do(ctx context.Context, service string, newReq func() (*http.Request, error), out any) error {
	start := time.Now()
	op := func() error {
		req, err := newReq()
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := h.c.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			serr := &StatusError{Service: service, Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
			if resp.StatusCode >= 500 {
				return serr
			}
			return backoff.Permanent(serr)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("%s decode: %w", service, err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(h.maxRetries)), ctx)
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		h.log.WithError(err).WithFields(logrus.Fields{"service": service, "wait": wait}).Warn("retrying request")
	})
	h.metrics.OracleRequest(service, err, time.Since(start))
	return err
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

// wavForm builds a multipart body holding wav under field "audio" plus the
// given text fields.
func wavForm(wav []byte, fields map[string]string) ([]byte, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	fw, err := w.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return b.Bytes(), w.FormDataContentType(), nil
}

// postForm returns a request factory for a multipart POST to url.
func postForm(ctx context.Context, url string, body []byte, contentType string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	}
}

// Health sends GET {baseURL}/health; any 200 reply is healthy.
func (h *HTTP) Health(ctx context.Context, service, baseURL string) error {
	return h.do(ctx, service, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	}, nil)
}
