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
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/oauth2"
)

func newRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/v1/items", nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestStaticStrategies(t *testing.T) {
	t.Parallel()

	Convey("NoAuth leaves the request untouched", t, func() {
		req := newRequest(t)
		So(NoAuth{}.Apply(req), ShouldBeNil)
		So(len(req.Header), ShouldEqual, 0)
		So(NoAuth{}.IsAuthError(&http.Response{StatusCode: 401}), ShouldBeFalse)
	})

	Convey("BasicAuth sets the Authorization header", t, func() {
		a := BasicAuth{Username: "apikey", Password: "secret"}
		req := newRequest(t)
		So(a.Apply(req), ShouldBeNil)
		user, pass, ok := req.BasicAuth()
		So(ok, ShouldBeTrue)
		So(user, ShouldEqual, "apikey")
		So(pass, ShouldEqual, "secret")
		So(a.IsAuthError(&http.Response{StatusCode: 401}), ShouldBeFalse)
	})

	Convey("BearerAuth", t, func() {
		Convey("with a static token", func() {
			a := &BearerAuth{Token: "tok"}
			req := newRequest(t)
			So(a.Apply(req), ShouldBeNil)
			So(req.Header.Get("Authorization"), ShouldEqual, "Bearer tok")
			So(a.IsAuthError(&http.Response{StatusCode: 401}), ShouldBeFalse)
		})

		Convey("with a token getter", func() {
			calls := 0
			a := &BearerAuth{TokenFunc: func() (string, error) {
				calls++
				return fmt.Sprintf("tok-%d", calls), nil
			}}
			req := newRequest(t)
			So(a.Apply(req), ShouldBeNil)
			So(req.Header.Get("Authorization"), ShouldEqual, "Bearer tok-1")
			So(a.Apply(req), ShouldBeNil)
			So(req.Header.Get("Authorization"), ShouldEqual, "Bearer tok-2")
			So(a.IsAuthError(&http.Response{StatusCode: 401}), ShouldBeTrue)
			So(a.IsAuthError(&http.Response{StatusCode: 403}), ShouldBeFalse)
		})

		Convey("without any token it fails", func() {
			So((&BearerAuth{}).Apply(newRequest(t)), ShouldNotBeNil)
		})
	})
}

func TestOAuth2RefreshAuth(t *testing.T) {
	t.Parallel()

	Convey("OAuth2RefreshAuth", t, func() {
		exchanges := 0
		var lastGrantType, lastRefreshToken string
		tokenServer := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				exchanges++
				lastGrantType = r.FormValue("grant_type")
				lastRefreshToken = r.FormValue("refresh_token")
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprintf(w, `{"access_token": "access-%d", "token_type": "Bearer", "expires_in": 3600}`,
					exchanges)
			}))
		defer tokenServer.Close()

		newAuth := func() *OAuth2RefreshAuth {
			return &OAuth2RefreshAuth{
				Config: oauth2.Config{
					ClientID:     "client-id",
					ClientSecret: "client-secret",
					Endpoint:     oauth2.Endpoint{TokenURL: tokenServer.URL},
				},
				RefreshToken: "refresh-me",
				HTTPClient:   tokenServer.Client(),
			}
		}

		Convey("Apply exchanges the refresh token and caches the result", func() {
			a := newAuth()
			req := newRequest(t)
			So(a.Apply(req), ShouldBeNil)
			So(req.Header.Get("Authorization"), ShouldEqual, "Bearer access-1")
			So(lastGrantType, ShouldEqual, "refresh_token")
			So(lastRefreshToken, ShouldEqual, "refresh-me")

			req2 := newRequest(t)
			So(a.Apply(req2), ShouldBeNil)
			So(req2.Header.Get("Authorization"), ShouldEqual, "Bearer access-1")
			So(exchanges, ShouldEqual, 1)
		})

		Convey("Refresh drops the cache and exchanges again", func() {
			a := newAuth()
			So(a.Apply(newRequest(t)), ShouldBeNil)
			So(a.Refresh(context.Background()), ShouldBeNil)
			req := newRequest(t)
			So(a.Apply(req), ShouldBeNil)
			So(req.Header.Get("Authorization"), ShouldEqual, "Bearer access-2")
			So(exchanges, ShouldEqual, 2)
		})

		Convey("extra headers ride along with the token", func() {
			a := newAuth()
			a.ExtraHeader = http.Header{"Login-Customer-Id": {"987"}}
			req := newRequest(t)
			So(a.Apply(req), ShouldBeNil)
			So(req.Header.Get("Login-Customer-Id"), ShouldEqual, "987")
		})

		Convey("a 401 is a recoverable auth error", func() {
			a := newAuth()
			So(a.IsAuthError(&http.Response{StatusCode: 401}), ShouldBeTrue)
			So(a.IsAuthError(&http.Response{StatusCode: 403}), ShouldBeFalse)
		})

		Convey("a missing refresh token fails fast", func() {
			a := newAuth()
			a.RefreshToken = ""
			So(a.Apply(newRequest(t)), ShouldNotBeNil)
		})
	})
}
