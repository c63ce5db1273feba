// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package moonlight

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
)

// ProbeRTSP sends an RTSP OPTIONS request to rawURL and succeeds on any
// 2xx answer. It is a cheap reachability check before a stream capture.
func ProbeRTSP(ctx context.Context, rawURL string, timeout time.Duration) error {
	u, err := base.ParseURL(rawURL)
	if err != nil {
		return fmt.Errorf("parse rtsp url: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	c := &gortsplib.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if err := c.Start(u.Scheme, u.Host); err != nil {
		return fmt.Errorf("rtsp connect: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		res, err := c.Options(u)
		switch {
		case err != nil:
			done <- fmt.Errorf("rtsp options: %w", err)
		case res.StatusCode < base.StatusOK || res.StatusCode > 299:
			done <- fmt.Errorf("rtsp options: status %d", res.StatusCode)
		default:
			done <- nil
		}
	}()

	select {
	case err := <-done:
		c.Close()
		return err
	case <-ctx.Done():
		c.Close()
		<-done
		return ctx.Err()
	}
}

// PreflightRTSP runs ProbeRTSP with the probe's request timeout. Its
// signature matches the capture chain's preflight hook.
func (p *Probe) PreflightRTSP(ctx context.Context, rawURL string) error {
	return ProbeRTSP(ctx, rawURL, p.requestTimeout())
}

// RTSPURL is the stream URL the service serves on its RTSP port.
func RTSPURL(host string, port int) string {
	return "rtsp://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/"
}
