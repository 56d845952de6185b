/*
 * Minio Cloud Storage, (C) 2016 Minio, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package transport

import (
	"net/http"
	"net/url"
	"sync"
	"time"
)

// pool is the shared connection pool, keyed by scheme+host+port. Creation
// is race-safe: the first caller to ask for a given key constructs the
// *http.Client, every later caller reuses it. Entries never change their
// settings after construction: a later caller for the same endpoint gets
// the existing client, with its original timeout and connection cap,
// whatever values it passes.
type pool struct {
	clients sync.Map // key string -> *http.Client
}

var shared = &pool{}

// clientFor returns the pooled *http.Client for endpoint, creating it (and
// its http.Transport capped at maxConnsPerServer) on first use.
func (p *pool) clientFor(endpoint string, maxConnsPerServer int, timeout time.Duration) (*http.Client, error) {
	key, err := poolKey(endpoint)
	if err != nil {
		return nil, err
	}

	if v, ok := p.clients.Load(key); ok {
		return v.(*http.Client), nil
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxConnsPerHost:     maxConnsPerServer,
			MaxIdleConnsPerHost: maxConnsPerServer,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	actual, _ := p.clients.LoadOrStore(key, client)
	return actual.(*http.Client), nil
}

func poolKey(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return u.Scheme + "://" + u.Hostname() + ":" + port, nil
}
