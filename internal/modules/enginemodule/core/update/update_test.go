package update

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticChecker struct {
	rel Release
	err error
}

func (c staticChecker) Latest(context.Context) (Release, error) { return c.rel, c.err }

func TestPollerNewerRelease(t *testing.T) {
	p := NewPoller(staticChecker{rel: Release{Version: "9.9.9", Build: Build + 1}}, hclog.NewNullLogger())
	build, version := p.Check()
	assert.Equal(t, -1, build)
	assert.Empty(t, version)

	p.Start()
	p.Start()
	p.Wait()
	build, version = p.Check()
	assert.Equal(t, Build+1, build)
	assert.Equal(t, "9.9.9", version)
}

func TestPollerNoUpdate(t *testing.T) {
	for name, c := range map[string]Checker{
		"same build": staticChecker{rel: Release{Version: Version, Build: Build}},
		"error":      staticChecker{err: errors.New("offline")},
		"nil":        nil,
	} {
		t.Run(name, func(t *testing.T) {
			p := NewPoller(c, hclog.NewNullLogger())
			p.Start()
			p.Wait()
			build, _ := p.Check()
			assert.Equal(t, -1, build)
		})
	}
}

func TestPollerStopBeforeStart(t *testing.T) {
	p := NewPoller(staticChecker{}, hclog.NewNullLogger())
	p.Stop()
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/latest.json":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"version":"2.0.0","build":2027010100,"url":"https://example.invalid/dl"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	rel, err := NewHTTPChecker(srv.URL+"/latest.json", time.Second).Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Release{Version: "2.0.0", Build: 2027010100, URL: "https://example.invalid/dl"}, rel)

	_, err = NewHTTPChecker(srv.URL+"/missing", 0).Latest(context.Background())
	assert.ErrorContains(t, err, "status 404")
}
