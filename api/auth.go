// Copyright 2025 The fivetran-custom-connector Authors

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/stockparfait/errors"
	"golang.org/x/oauth2"
)

// Strategy attaches credentials to outgoing requests and may react to an
// authentication failure by refreshing them. Strategies are built once per
// client and are intended for single-threaded use; the only mutable state is
// the OAuth2 strategy's cached token.
type Strategy interface {
	// Apply augments an outgoing request with credentials.
	Apply(req *http.Request) error
	// IsAuthError reports whether the response is an authentication failure
	// this strategy can act on. The client then refreshes the credentials and
	// retries the request exactly once.
	IsAuthError(resp *http.Response) bool
	// Refresh obtains fresh credentials.
	Refresh(ctx context.Context) error
}

// NoAuth is the no-op strategy for public APIs.
type NoAuth struct{}

var _ Strategy = NoAuth{}

func (NoAuth) Apply(req *http.Request) error { return nil }

func (NoAuth) IsAuthError(resp *http.Response) bool { return false }

func (NoAuth) Refresh(ctx context.Context) error { return nil }

// BasicAuth sends a static username/password pair. There is nothing to
// refresh, so a 401 propagates to the caller immediately.
type BasicAuth struct {
	Username string
	Password string
}

var _ Strategy = BasicAuth{}

func (a BasicAuth) Apply(req *http.Request) error {
	req.SetBasicAuth(a.Username, a.Password)
	return nil
}

func (a BasicAuth) IsAuthError(resp *http.Response) bool { return false }

func (a BasicAuth) Refresh(ctx context.Context) error { return nil }

// BearerAuth sends an Authorization: Bearer header, either with a static
// Token or with the value of TokenFunc resolved on every request. Only the
// TokenFunc form treats a 401 as recoverable, since re-resolving the getter
// may produce a newer token; a static token cannot improve on retry.
type BearerAuth struct {
	Token     string
	TokenFunc func() (string, error)
}

var _ Strategy = &BearerAuth{}

func (a *BearerAuth) Apply(req *http.Request) error {
	token := a.Token
	if a.TokenFunc != nil {
		var err error
		if token, err = a.TokenFunc(); err != nil {
			return errors.Annotate(err, "bearer token getter failed")
		}
	}
	if token == "" {
		return errors.Reason("BearerAuth requires a Token or a TokenFunc")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (a *BearerAuth) IsAuthError(resp *http.Response) bool {
	return a.TokenFunc != nil && resp.StatusCode == http.StatusUnauthorized
}

func (a *BearerAuth) Refresh(ctx context.Context) error { return nil }

// OAuth2RefreshAuth implements the OAuth2 refresh-token grant: it exchanges
// the long-lived refresh token for short-lived access tokens through the
// configured token endpoint, caches the access token with its expiry, and
// renews it before expiry or after a 401. The client retries a 401 exactly
// once after a refresh; a second 401 propagates.
type OAuth2RefreshAuth struct {
	// Config holds the client credentials and the token endpoint URL.
	Config oauth2.Config
	// RefreshToken is the long-lived credential obtained out of band.
	RefreshToken string
	// ExtraHeader adds static headers alongside the Authorization header,
	// e.g. a login-customer-id.
	ExtraHeader http.Header
	// ExpiryMargin renews the token this long before its actual expiry, to
	// absorb clock skew. Defaults to a minute.
	ExpiryMargin time.Duration
	// HTTPClient, when set, performs the token endpoint calls.
	HTTPClient *http.Client

	token *oauth2.Token
}

var _ Strategy = &OAuth2RefreshAuth{}

func (a *OAuth2RefreshAuth) margin() time.Duration {
	if a.ExpiryMargin == 0 {
		return time.Minute
	}
	return a.ExpiryMargin
}

func (a *OAuth2RefreshAuth) tokenValid() bool {
	if a.token == nil || a.token.AccessToken == "" {
		return false
	}
	if a.token.Expiry.IsZero() {
		return true
	}
	return time.Until(a.token.Expiry) > a.margin()
}

func (a *OAuth2RefreshAuth) fetchToken(ctx context.Context) (*oauth2.Token, error) {
	if a.RefreshToken == "" {
		return nil, errors.Reason("OAuth2RefreshAuth requires a refresh token")
	}
	if a.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.HTTPClient)
	}
	src := a.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: a.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, errors.Annotate(err, "failed to exchange refresh token at %s",
			a.Config.Endpoint.TokenURL)
	}
	if token.AccessToken == "" {
		return nil, errors.Reason("token endpoint returned an empty access token")
	}
	a.token = token
	return token, nil
}

func (a *OAuth2RefreshAuth) Apply(req *http.Request) error {
	token := a.token
	if !a.tokenValid() {
		var err error
		if token, err = a.fetchToken(req.Context()); err != nil {
			return err
		}
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	for k, vs := range a.ExtraHeader {
		req.Header[k] = vs
	}
	return nil
}

func (a *OAuth2RefreshAuth) IsAuthError(resp *http.Response) bool {
	return resp.StatusCode == http.StatusUnauthorized
}

// Refresh drops the cached access token and exchanges the refresh token for
// a new one.
func (a *OAuth2RefreshAuth) Refresh(ctx context.Context) error {
	a.token = nil
	_, err := a.fetchToken(ctx)
	return err
}
