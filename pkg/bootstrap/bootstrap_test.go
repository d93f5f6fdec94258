package bootstrap

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/nanophoto/nanophoto-backend/pkg/config"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
)

type recordingCloser struct {
	name  string
	order *[]string
	err   error
}

func (c recordingCloser) Close() error {
	*c.order = append(*c.order, c.name)
	return c.err
}

func testRuntime(buf *bytes.Buffer) *Runtime {
	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.Service.Kind = "api"
	return &Runtime{Config: cfg, Logger: logger.New(logger.Options{ServiceName: "api", Output: buf})}
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	var buf bytes.Buffer
	r := testRuntime(&buf)
	var order []string
	r.Defer("database", recordingCloser{name: "database", order: &order})
	r.Defer("redis", recordingCloser{name: "redis", order: &order, err: errors.New("conn reset")})
	r.Defer("nil", nil)

	r.Close()
	if strings.Join(order, ",") != "redis,database" {
		t.Fatalf("unexpected close order %v", order)
	}
	if !strings.Contains(buf.String(), "error closing redis") {
		t.Fatalf("expected close error to be logged, got %s", buf.String())
	}
	r.Close()
	if len(order) != 2 {
		t.Fatal("second Close should be a no-op")
	}
}

func TestMustClosesBeforeExit(t *testing.T) {
	var buf bytes.Buffer
	r := testRuntime(&buf)
	var order []string
	r.Defer("database", recordingCloser{name: "database", order: &order})

	code := -1
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = defaultExit })

	r.Must("bootstrap redis", nil)
	if code != -1 || len(order) != 0 {
		t.Fatal("nil error must be a no-op")
	}
	r.Must("bootstrap redis", errors.New("dial tcp: refused"))
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if len(order) != 1 {
		t.Fatal("expected deferred clients to close before exit")
	}
	if !strings.Contains(buf.String(), "failed to bootstrap redis") || !strings.Contains(buf.String(), `"serviceKind":"api"`) {
		t.Fatalf("unexpected log output %s", buf.String())
	}
}
