// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package channel_whep

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	whep_internal "github.com/rapidaai/whep-viewer/api/viewer-api/internal/channel/whep/internal"
	internal_type "github.com/rapidaai/whep-viewer/api/viewer-api/internal/type"
	"github.com/rapidaai/whep-viewer/pkg/commons"
)

// Answer is the result of a successful signaling exchange.
type Answer struct {
	SDP string
	// ResourceURL is the session resource returned in the Location header,
	// resolved against the endpoint. Empty when the origin sent none.
	ResourceURL string
}

// Signaler performs the WHEP offer/answer exchange over HTTP.
type Signaler struct {
	logger   commons.Logger
	client   *resty.Client
	endpoint string
	token    string
	timeout  time.Duration
}

// NewSignaler returns a signaler posting offers to endpoint. A non-empty token
// is sent as a bearer token.
func NewSignaler(logger commons.Logger, endpoint, token string, timeout time.Duration) *Signaler {
	if timeout <= 0 {
		timeout = whep_internal.HandshakeTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", whep_internal.ContentTypeSDP)
	return &Signaler{
		logger:   logger,
		client:   client,
		endpoint: endpoint,
		token:    token,
		timeout:  timeout,
	}
}

// Exchange posts the local offer and returns the remote answer. Every failure
// (transport error, timeout, non-2xx, empty or malformed answer) wraps
// internal_type.ErrHandshakeFailure.
func (s *Signaler) Exchange(ctx context.Context, offer string) (*Answer, error) {
	req := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", whep_internal.ContentTypeSDP).
		SetBody(offer)
	if s.token != "" {
		req.SetAuthToken(s.token)
	}

	resp, err := req.Post(s.endpoint)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: request timeout after %s", internal_type.ErrHandshakeFailure, s.timeout)
		}
		return nil, fmt.Errorf("%w: %v", internal_type.ErrHandshakeFailure, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: HTTP %s", internal_type.ErrHandshakeFailure, resp.Status())
	}

	answer := string(resp.Body())
	if !strings.HasPrefix(strings.TrimSpace(answer), "v=") {
		return nil, fmt.Errorf("%w: malformed answer (%d bytes)", internal_type.ErrHandshakeFailure, len(answer))
	}

	return &Answer{
		SDP:         answer,
		ResourceURL: s.resolve(resp.Header().Get("Location")),
	}, nil
}

// Delete ends the session resource on the origin. Best effort: errors are
// returned for logging only.
func (s *Signaler) Delete(ctx context.Context, resourceURL string) error {
	if resourceURL == "" {
		return nil
	}
	req := s.client.R().SetContext(ctx)
	if s.token != "" {
		req.SetAuthToken(s.token)
	}
	resp, err := req.Delete(resourceURL)
	if err != nil {
		return fmt.Errorf("failed to delete session resource: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to delete session resource: HTTP %d", resp.StatusCode())
	}
	return nil
}

func (s *Signaler) resolve(location string) string {
	if location == "" {
		return ""
	}
	base, err := url.Parse(s.endpoint)
	if err != nil {
		return location
	}
	ref, err := url.Parse(location)
	if err != nil {
		s.logger.Debugw("Ignoring unparsable Location header", "location", location, "error", err)
		return ""
	}
	return base.ResolveReference(ref).String()
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
