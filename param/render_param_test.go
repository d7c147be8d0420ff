package param

import (
	"testing"
	"time"

	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitConditionIsValid(t *testing.T) {
	tests := []struct {
		name string
		cond WaitCondition
		want bool
	}{
		{name: "load without selector", cond: WaitCondition{State: WaitLoad}, want: true},
		{name: "stable without selector", cond: WaitCondition{State: WaitStable}, want: true},
		{name: "idle without selector", cond: WaitCondition{State: WaitIdle}, want: true},
		{name: "ready requires selector", cond: WaitCondition{State: WaitReady}, want: false},
		{name: "ready with selector", cond: WaitCondition{State: WaitReady, Selector: ".quote"}, want: true},
		{name: "visible requires selector", cond: WaitCondition{State: WaitVisible}, want: false},
		{name: "visible with selector", cond: WaitCondition{State: WaitVisible, Selector: "#app"}, want: true},
		{name: "unknown state", cond: WaitCondition{State: "networkidle2"}, want: false},
		{name: "empty state", cond: WaitCondition{}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.IsValid())
		})
	}
}

func TestRenderRequestIsValid(t *testing.T) {
	tests := []struct {
		name    string
		request RenderRequest
		want    bool
	}{
		{name: "url only", request: RenderRequest{Url: "https://example.com"}, want: true},
		{name: "empty url", request: RenderRequest{}, want: false},
		{name: "negative timeout", request: RenderRequest{Url: "https://example.com", TimeoutSeconds: -1}, want: false},
		{
			name: "invalid wait condition",
			request: RenderRequest{
				Url:       "https://example.com",
				WaitUntil: &WaitCondition{State: WaitReady},
			},
			want: false,
		},
		{
			name: "nil script",
			request: RenderRequest{
				Url:     "https://example.com",
				Scripts: []*Script{nil},
			},
			want: false,
		},
		{
			name: "script without source",
			request: RenderRequest{
				Url:     "https://example.com",
				Scripts: []*Script{{StoreAs: "result"}},
			},
			want: false,
		},
		{
			name: "full request",
			request: RenderRequest{
				Url:            "https://example.com",
				TimeoutSeconds: 20,
				WaitUntil:      &WaitCondition{State: WaitReady, Selector: ".quote", Seconds: 5},
				Screenshot:     true,
				Scripts:        []*Script{{Source: "() => document.title", StoreAs: "title"}},
			},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.request.IsValid())
		})
	}
}

func TestEffectiveTimeout(t *testing.T) {
	tests := []struct {
		name           string
		requestSeconds int
		defaultTimeout time.Duration
		want           time.Duration
	}{
		{name: "request wins over default", requestSeconds: 10, defaultTimeout: 20 * time.Second, want: 10 * time.Second},
		{name: "default fills missing request value", requestSeconds: 0, defaultTimeout: 20 * time.Second, want: 20 * time.Second},
		{name: "fallback when both missing", requestSeconds: 0, defaultTimeout: 0, want: DefaultRenderTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := RenderRequest{Url: "https://example.com", TimeoutSeconds: tt.requestSeconds}
			assert.Equal(t, tt.want, request.EffectiveTimeout(tt.defaultTimeout))
		})
	}
}

func TestAllCookies(t *testing.T) {
	t.Run("no cookies", func(t *testing.T) {
		request := RenderRequest{Url: "https://example.com"}
		assert.Nil(t, request.AllCookies())
	})

	t.Run("structured cookies keep their scope", func(t *testing.T) {
		request := RenderRequest{
			Url: "https://example.com",
			Cookies: []*types.Cookie{
				{Name: "session", Value: "abc", Domain: "example.com", Path: "/", HttpOnly: true},
			},
		}
		cookies := request.AllCookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, "example.com", cookies[0].Domain)
		assert.True(t, cookies[0].HttpOnly)
	})

	t.Run("pairs become cookies without scope", func(t *testing.T) {
		request := RenderRequest{
			Url:         "https://example.com",
			CookiePairs: map[string]string{"lang": "zh", "theme": "dark"},
		}
		cookies := request.AllCookies()
		require.Len(t, cookies, 2)
		names := []string{cookies[0].Name, cookies[1].Name}
		assert.ElementsMatch(t, []string{"lang", "theme"}, names)
		for _, cookie := range cookies {
			assert.Empty(t, cookie.Domain)
			assert.Empty(t, cookie.Url)
		}
	})

	t.Run("both shapes merge", func(t *testing.T) {
		request := RenderRequest{
			Url:         "https://example.com",
			Cookies:     []*types.Cookie{{Name: "session", Value: "abc"}},
			CookiePairs: map[string]string{"lang": "zh"},
		}
		assert.Len(t, request.AllCookies(), 2)
	})
}
