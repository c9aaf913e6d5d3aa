// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
)

type LogInfo struct {
	Etag    string
	Records []LogRecord
}

// Client talks to a daemon's status socket.
type Client struct {
	base   string // URI to root of tree on server
	client *http.Client
}

// NewClient returns a Client for the unix socket at path.
func NewClient(path string) *Client {
	t := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}
	return NewClientWithTransport(t, "http://daemonvisor")
}

// NewClientWithTransport returns a Client using t, rooted at baseURI.  A
// nil transport means http.DefaultTransport.
func NewClientWithTransport(t http.RoundTripper, baseURI string) *Client {
	if t == nil {
		t = http.DefaultTransport
	}
	return &Client{
		base:   baseURI,
		client: &http.Client{Transport: t},
	}
}

// get issues a GET against the URL and decodes the JSON body into v.  When
// etag is given the request is conditional, optionally long polling for
// wait seconds.  The return value is the new Etag; it is "" if the
// resource did not change.
func (c *Client) get(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {
	req, e := http.NewRequestWithContext(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}
	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		rerr := &Error{Code: res.StatusCode, Message: res.Status}
		if body, e := io.ReadAll(res.Body); e == nil {
			json.Unmarshal(body, rerr)
		}
		return "", rerr
	}
	if e := json.NewDecoder(res.Body).Decode(v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

func (c *Client) Status(ctx context.Context) (*DaemonInfo, error) {
	v := &DaemonInfo{}
	if _, e := c.get(ctx, c.base+"/status", "", 0, v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) Workers(ctx context.Context) ([]string, error) {
	var v []string
	if _, e := c.get(ctx, c.base+"/workers", "", 0, &v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) Worker(ctx context.Context, name string) (*WorkerInfo, error) {
	v := &WorkerInfo{}
	if _, e := c.get(ctx, c.base+"/workers/"+url.PathEscape(name), "", 0, v); e != nil {
		return nil, e
	}
	return v, nil
}

// GetLog returns the daemon's retained log records.
func (c *Client) GetLog(ctx context.Context) (*LogInfo, error) {
	return c.WatchLog(ctx, nil, 0)
}

// WatchLog waits up to secs seconds for the log to change from last.  If it
// does not change, last is returned.
func (c *Client) WatchLog(ctx context.Context, last *LogInfo, secs int) (*LogInfo, error) {
	etag := ""
	if last != nil {
		etag = last.Etag
	}
	v := &LogInfo{}
	tag, e := c.get(ctx, c.base+"/log", etag, secs, &v.Records)
	if e != nil {
		return nil, e
	}
	if tag == "" && last != nil {
		return last, nil
	}
	v.Etag = tag
	return v, nil
}
