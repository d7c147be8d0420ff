package options

import (
	"testing"

	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/stretchr/testify/assert"
)

func TestParseArgument(t *testing.T) {
	tests := []struct {
		name      string
		arg       string
		wantName  string
		wantValue string
	}{
		{name: "switch flag", arg: "--disable-gpu", wantName: "disable-gpu"},
		{name: "flag with value", arg: "--lang=zh-CN", wantName: "lang", wantValue: "zh-CN"},
		{name: "single dash", arg: "-mute-audio", wantName: "mute-audio"},
		{name: "no dashes", arg: "no-first-run", wantName: "no-first-run"},
		{name: "surrounding whitespace", arg: "  --disable-gpu  ", wantName: "disable-gpu"},
		{name: "value containing equals", arg: "--js-flags=--max-old-space-size=512", wantName: "js-flags", wantValue: "--max-old-space-size=512"},
		{name: "empty string", arg: ""},
		{name: "dashes only", arg: "--"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, value := ParseArgument(tt.arg)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantValue, value)
		})
	}
}

func TestCreateLauncher(t *testing.T) {
	l := CreateLauncher(
		WithBin("/usr/bin/chromium-browser"),
		WithHeadless(true),
		WithUserAgent("test-agent"),
		WithNoSandbox(true),
		WithDisableBlinkFeatures("AutomationControlled"),
		WithRemoteDebuggingPort(9222),
		WithArguments([]string{"--disable-gpu", "--lang=zh-CN", ""}),
	)

	assert.Equal(t, "/usr/bin/chromium-browser", l.Get(flags.Bin))
	assert.True(t, l.Has(flags.Headless))
	assert.Equal(t, "test-agent", l.Get("user-agent"))
	assert.True(t, l.Has(flags.NoSandbox))
	assert.Equal(t, "AutomationControlled", l.Get("disable-blink-features"))
	assert.Equal(t, "9222", l.Get(flags.RemoteDebuggingPort))
	assert.True(t, l.Has("disable-gpu"))
	assert.Equal(t, "zh-CN", l.Get("lang"))
}

func TestCreateLauncher_DisabledOptionsLeaveNoFlags(t *testing.T) {
	l := CreateLauncher(
		WithBin(""),
		WithHeadless(false),
		WithUserAgent(""),
		WithDisableBlinkFeatures(""),
		WithRemoteDebuggingPort(0),
	)

	assert.False(t, l.Has(flags.Headless))
	assert.False(t, l.Has("user-agent"))
	assert.False(t, l.Has("disable-blink-features"))
}
