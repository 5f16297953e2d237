package main

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/Seednode/santabox/santa"
)

const (
	deviceCookieName = "santabox_id"
	nameCookiePrefix = "santabox_name_"
	cookieMaxAge     = 365 * 24 * 60 * 60
)

// cookieKeyring persists device-scoped values as cookies, so the identity
// outlives any one room and is shared by every room the browser visits.
type cookieKeyring struct {
	w http.ResponseWriter
	r *http.Request

	set map[string]string
}

func newCookieKeyring(w http.ResponseWriter, r *http.Request) *cookieKeyring {
	return &cookieKeyring{w: w, r: r, set: make(map[string]string)}
}

func cookieName(key string) string {
	if key == "device" {
		return deviceCookieName
	}

	// room/<code>/name
	if code, ok := strings.CutPrefix(key, "room/"); ok {
		return nameCookiePrefix + strings.TrimSuffix(code, "/name")
	}

	return "santabox_" + key
}

func (k *cookieKeyring) Get(key string) (string, bool, error) {
	if v, ok := k.set[key]; ok {
		return v, true, nil
	}

	c, err := k.r.Cookie(cookieName(key))
	if err != nil || c.Value == "" {
		return "", false, nil
	}

	v, err := url.QueryUnescape(c.Value)
	if err != nil {
		return "", false, nil
	}

	return v, true, nil
}

func (k *cookieKeyring) Set(key, value string) error {
	k.set[key] = value

	http.SetCookie(k.w, &http.Cookie{
		Name:     cookieName(key),
		Value:    url.QueryEscape(value),
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

func identityFor(w http.ResponseWriter, r *http.Request) *santa.IdentityProvider {
	return santa.NewIdentityProvider(newCookieKeyring(w, r))
}
