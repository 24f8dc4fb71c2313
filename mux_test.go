package linkauth_test

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	la "github.com/panyam/linkauth"
)

// setupLinkAuth serves a LinkAuth with a fake handshake route:
// /test/{provider}?id=... completes a login with a ready-made credential
func setupLinkAuth(t *testing.T) (*la.LinkAuth, *httptest.Server) {
	j := setupJourney(t)
	a := la.New("Test", j.Service)
	a.Router().HandleFunc("/test/{provider}", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		var cred la.Credential
		provider, _ := la.ParseProvider(mux.Vars(r)["provider"])
		switch provider {
		case la.ProviderTwitter:
			cred = la.TwitterProfile{ScreenName: id}
		case la.ProviderLinkedIn:
			cred = la.LinkedInProfile{ID: id}
		case la.ProviderOpenID:
			cred = la.OpenIDResponse{Identifier: id, Source: "Google"}
		default:
			http.NotFound(w, r)
			return
		}
		a.CompleteLogin(w, r, provider, cred)
	})
	server := httptest.NewServer(a.Handler())
	t.Cleanup(server.Close)
	return a, server
}

func newClient(t *testing.T) *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func get(t *testing.T, c *http.Client, url string) *http.Response {
	t.Helper()
	resp, err := c.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

type profileBody struct {
	Account    la.Account           `json:"account"`
	Identities []la.IdentityRecord `json:"identities"`
}

func getProfile(t *testing.T, c *http.Client, url string) profileBody {
	t.Helper()
	resp := get(t, c, url+"/me")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body profileBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestCompleteLogin_LoginThenLink(t *testing.T) {
	_, server := setupLinkAuth(t)
	alice := newClient(t)

	resp := get(t, alice, server.URL+"/test/twitter?id=alice")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	profile := getProfile(t, alice, server.URL)
	assert.Equal(t, "TW-alice", profile.Account.Username)
	assert.Len(t, profile.Identities, 1)

	// Logged in, so the next handshake adds a login
	resp = get(t, alice, server.URL+"/test/linkedin?id=li-alice")
	assert.Equal(t, "/profile?add_login=true", resp.Header.Get("Location"))
	profile = getProfile(t, alice, server.URL)
	assert.Len(t, profile.Identities, 2)

	// Bob owns a twitter identity that alice cannot take
	bob := newClient(t)
	get(t, bob, server.URL+"/test/twitter?id=bob")
	resp = get(t, alice, server.URL+"/test/twitter?id=bob")
	assert.Equal(t, "/profile?add_login=false", resp.Header.Get("Location"))
	profile = getProfile(t, alice, server.URL)
	assert.Len(t, profile.Identities, 2)
	assert.Equal(t, "TW-bob", getProfile(t, bob, server.URL).Account.Username)
}

func TestCompleteLogin_FailuresRedirectToLoginPage(t *testing.T) {
	_, server := setupLinkAuth(t)
	c := newClient(t)

	resp := get(t, c, server.URL+"/test/openid?id=")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?error=assertion_invalid", resp.Header.Get("Location"))

	resp = get(t, c, server.URL+"/me")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCompleteLogin_CallbackCookie(t *testing.T) {
	_, server := setupLinkAuth(t)
	c := newClient(t)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/test/twitter?id=carol", nil)
	req.AddCookie(&http.Cookie{Name: "oauthCallbackURL", Value: "/dashboard"})
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))

	// Off-site callbacks are ignored
	req, _ = http.NewRequest(http.MethodGet, server.URL+"/test/twitter?id=carol", nil)
	req.AddCookie(&http.Cookie{Name: "oauthCallbackURL", Value: "https://evil.example.com/"})
	resp, err = newClient(t).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "/", resp.Header.Get("Location"))

	req, _ = http.NewRequest(http.MethodGet, server.URL+"/test/twitter?id=carol", nil)
	req.AddCookie(&http.Cookie{Name: "oauthCallbackURL", Value: "//evil.example.com/"})
	resp, err = newClient(t).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

func TestLogout_OnlyRedirectsLocally(t *testing.T) {
	_, server := setupLinkAuth(t)

	for _, to := range []string{
		"javascript:alert(1)",
		"https://evil.example.com/",
		"//evil.example.com/",
		`/\evil.example.com/`,
	} {
		resp := get(t, newClient(t), server.URL+"/logout?to="+url.QueryEscape(to))
		assert.Equal(t, http.StatusOK, resp.StatusCode, to)
		assert.Empty(t, resp.Header.Get("Location"), to)
	}

	resp := get(t, newClient(t), server.URL+"/logout?to="+url.QueryEscape("/bye"))
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/bye", resp.Header.Get("Location"))
}

func TestBearerTokenAndLogout(t *testing.T) {
	a, server := setupLinkAuth(t)
	c := newClient(t)
	get(t, c, server.URL+"/test/openid?id=https://www.google.com/accounts/o8/id?id=dan")
	profile := getProfile(t, c, server.URL)
	require.True(t, profile.Identities[0].NeedsCrossDomainMerge)

	token, err := a.Tokens.Issue(&profile.Account, la.ProviderOpenID)
	require.NoError(t, err)
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Skipping the merge clears the flag
	resp, err = c.Post(server.URL+"/me/openid/merge/skip", "application/json", nil)
	require.NoError(t, err)
	var cleared map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cleared))
	resp.Body.Close()
	assert.Equal(t, 1, cleared["cleared"])
	assert.False(t, getProfile(t, c, server.URL).Identities[0].NeedsCrossDomainMerge)

	// Profile update
	resp, err = c.Post(server.URL+"/me", "application/json", strings.NewReader(`{"first_name":"Dan"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Dan", getProfile(t, c, server.URL).Account.FirstName)

	resp = get(t, c, server.URL+"/logout")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = get(t, c, server.URL+"/me")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
