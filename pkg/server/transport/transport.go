// Copyright 2022 PingCAP, Inc.
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

package transport

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pingcap/errors"
	"github.com/pingcap/jobflow/pkg/httputil"
	"github.com/pingcap/jobflow/pkg/server/client"
)

// APIPrefix is the path prefix of every command.
const APIPrefix = "/v1/"

// HTTPTransport posts commands as JSON to the workflow server.
type HTTPTransport struct {
	baseURL string
	cli     *httputil.Client
}

var _ client.Transport = (*HTTPTransport)(nil)

// New returns a transport to the server of session.
func New(session *client.Session) *HTTPTransport {
	return NewWithURL("http://" + session.Addr())
}

// NewWithURL returns a transport to the server at baseURL.
func NewWithURL(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		cli:     httputil.NewClient(),
	}
}

// Send implements client.Transport. A 4xx answer is a refusal of the
// server and is returned as a response, other failures as errors.
func (t *HTTPTransport) Send(ctx context.Context, req *client.Request) (*client.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("X-Request-Id", req.ID)

	content, err := t.cli.DoRequest(ctx, t.baseURL+APIPrefix+req.Command, http.MethodPost, headers, bytes.NewReader(body))
	if err != nil {
		if serr, ok := errors.Cause(err).(*httputil.StatusError); ok && serr.Code < http.StatusInternalServerError {
			return refused(serr), nil
		}
		return nil, err
	}
	resp := &client.Response{}
	if err := json.Unmarshal(content, resp); err != nil {
		return nil, errors.Annotatef(err, "decode answer to %s", req.Command)
	}
	return resp, nil
}

func refused(serr *httputil.StatusError) *client.Response {
	resp := &client.Response{}
	if err := json.Unmarshal(serr.Body, resp); err != nil || resp.Error == "" {
		resp.Error = strings.TrimSpace(string(serr.Body))
	}
	resp.OK = false
	return resp
}

// Close implements client.Transport.
func (t *HTTPTransport) Close() error {
	t.cli.Close()
	return nil
}
