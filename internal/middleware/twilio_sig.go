// Package middleware holds echo middleware for the Twilio webhooks.
package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

// ParamsKey is the echo context key holding the verified form params.
const ParamsKey = "twilioParams"

// Sign computes the signature Twilio sends for a POST to fullURL: the URL
// followed by every param name and value in name order, HMAC-SHA1 with the
// auth token.
func Sign(authToken, fullURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func verify(authToken, signature, fullURL string, params map[string]string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(Sign(authToken, fullURL, params)))
}

// firstValues flattens a form to its first value per key.
func firstValues(form url.Values) map[string]string {
	params := make(map[string]string, len(form))
	for k, vs := range form {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	return params
}

// TwilioAuth rejects /twilio/ requests whose signature does not verify and
// exposes the form params under ParamsKey. Twilio signs the public URL it
// called, query included, so baseURL should be the origin it was given;
// empty falls back to https plus the Host header.
func TwilioAuth(getAuthToken func() string, baseURL string) echo.MiddlewareFunc {
	baseURL = strings.TrimRight(baseURL, "/")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/twilio/") {
				return next(c)
			}
			token := getAuthToken()
			if token == "" {
				return c.String(http.StatusInternalServerError, "TWILIO_AUTH_TOKEN not configured")
			}

			body, err := io.ReadAll(req.Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "unreadable body")
			}
			form, err := url.ParseQuery(string(body))
			if err != nil {
				return c.String(http.StatusBadRequest, "malformed form body")
			}
			params := firstValues(form)

			origin := baseURL
			if origin == "" {
				origin = "https://" + req.Host
			}
			if !verify(token, req.Header.Get(SignatureHeader), origin+req.URL.RequestURI(), params) {
				return c.String(http.StatusUnauthorized, "invalid Twilio signature")
			}
			c.Set(ParamsKey, params)
			return next(c)
		}
	}
}
