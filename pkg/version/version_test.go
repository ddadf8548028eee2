package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewer(t *testing.T) {
	tests := []struct {
		candidate, current string
		want               bool
	}{
		{"1.10.0", "1.9.3", true},
		{"1.9.3", "1.10.0", false},
		{"2.0.0", "1.99.99", true},
		{"1.2.3", "1.2.3", false},
		{"v1.2.4", "1.2.3-dirty", true},
		{"1.2", "1.2.0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Newer(tt.candidate, tt.current), "%s vs %s", tt.candidate, tt.current)
	}
}

func TestLatestRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag_name":"v1.4.0"}`))
	}))
	defer srv.Close()

	orig := ReleasesURL
	ReleasesURL = srv.URL
	defer func() { ReleasesURL = orig }()

	latest, newer, err := LatestRelease(context.Background(), srv.Client(), "1.3.9")
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", latest)
	assert.True(t, newer)

	_, newer, err = LatestRelease(context.Background(), srv.Client(), "0.0.0-dev")
	require.NoError(t, err)
	assert.False(t, newer)
}

func TestLatestRelease_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	orig := ReleasesURL
	ReleasesURL = srv.URL
	defer func() { ReleasesURL = orig }()

	_, _, err := LatestRelease(context.Background(), srv.Client(), "1.0.0")
	assert.Error(t, err)
}

func TestFormatVersion(t *testing.T) {
	origVersion, origCommit, origBuild := Version, Commit, BuildTime
	defer func() { Version, Commit, BuildTime = origVersion, origCommit, origBuild }()

	Version, Commit, BuildTime = "1.2.3", "", ""
	assert.Equal(t, "1.2.3 (development)", FormatVersion())

	Commit = "abc1234"
	assert.Equal(t, "1.2.3 (commit: abc1234)", FormatVersion())

	BuildTime = "2025-10-23T10:20:30Z"
	assert.Equal(t, "1.2.3 (commit: abc1234, built at: 2025-10-23T10:20:30Z)", FormatVersion())
}
