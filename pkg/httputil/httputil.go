// Copyright 2020 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/pingcap/errors"
)

// StatusError is returned for answers outside of the 2xx range.
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Body)
}

// Client wraps an HTTP client.
type Client struct {
	http.Client
}

// NewClient creates an HTTP client on a private transport, so that Close
// does not affect other clients of the process.
func NewClient() *Client {
	return &Client{
		Client: http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
	}
}

// DoRequest sends an request and returns an HTTP response content. Non 2xx
// answers are a *StatusError carrying the content.
func (c *Client) DoRequest(
	ctx context.Context, url, method string, headers http.Header, body io.Reader,
) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.Trace(err)
	}

	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{Code: resp.StatusCode, Body: content}
	}
	return content, nil
}

// Close drops the idle connections of the client.
func (c *Client) Close() {
	c.CloseIdleConnections()
}
