package frontdoor

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/One-com/gone/log"
	"github.com/pkg/errors"

	"github.com/One-com/frontdoor/config"
)

func init() {
	log.SetOutput(io.Discard)
}

const teststring = "test ok\n"

var helloStage = StageFunc("hello", func(ctx context.Context, hc *HandlerContext) error {
	return hc.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(teststring))
	}))
})

func plainInstance(port int) config.InstanceConfig {
	return config.InstanceConfig{Protocol: config.Plain, Port: port, Hostname: "127.0.0.1"}
}

// freePort returns a port which was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func get(t *testing.T, client *http.Client, url string) string {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func assertClosed(t *testing.T, addr string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err == nil {
		conn.Close()
		t.Errorf("%s still accepting connections", addr)
	}
}

func TestStartTwice(t *testing.T) {
	ctx := context.Background()
	c := New(Stages(helloStage))
	src := config.Static(&config.Config{Instances: []config.InstanceConfig{plainInstance(0)}})

	if err := c.Start(ctx, src); err != nil {
		t.Fatal(err)
	}
	defer c.Stop(ctx)

	if err := c.Start(ctx, src); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if _, _, err := c.Init(ctx, src); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning from Init, got %v", err)
	}
	if c.State() != Running {
		t.Fatalf("state %s", c.State())
	}

	ls := c.Listeners()
	if len(ls) != 1 || !ls[0].Live() {
		t.Fatal("first listener not intact")
	}
	if got := get(t, http.DefaultClient, ls[0].URL()); got != teststring {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestConcurrentStart(t *testing.T) {
	ctx := context.Background()
	c := New(Stages(helloStage))
	src := config.Static(&config.Config{Instances: []config.InstanceConfig{plainInstance(0), plainInstance(0)}})

	for round := 0; round < 5; round++ {
		errs := make(chan error, 8)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- c.Start(ctx, src)
			}()
		}
		wg.Wait()
		close(errs)

		started := 0
		for err := range errs {
			switch err {
			case nil:
				started++
			case ErrAlreadyRunning:
			default:
				t.Fatalf("round %d: unexpected error %v", round, err)
			}
		}
		if started != 1 {
			t.Fatalf("round %d: %d starts succeeded", round, started)
		}
		if c.State() != Running || len(c.Listeners()) != 2 {
			t.Fatalf("round %d: state %s with %d listeners", round, c.State(), len(c.Listeners()))
		}

		c.Stop(ctx)
		if c.State() != Idle || len(c.Listeners()) != 0 {
			t.Fatalf("round %d: state %s with %d listeners after stop", round, c.State(), len(c.Listeners()))
		}
	}
}

func TestStartRollback(t *testing.T) {
	ctx := context.Background()

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer occupied.Close()
	busy := occupied.Addr().(*net.TCPAddr).Port
	free := freePort(t)

	c := New(Stages(helloStage))
	err = c.Start(ctx, config.Static(&config.Config{
		Instances: []config.InstanceConfig{plainInstance(free), plainInstance(busy)},
	}))

	var be *BindError
	if !errors.As(err, &be) {
		t.Fatalf("expected BindError, got %v", err)
	}
	if be.Instance != "http://127.0.0.1:"+strconv.Itoa(busy) {
		t.Errorf("error names wrong instance: %s", be.Instance)
	}
	if c.State() != Idle {
		t.Errorf("state %s after failed start", c.State())
	}
	if len(c.Listeners()) != 0 || c.Handler() != nil {
		t.Error("failed start left state behind")
	}
	assertClosed(t, "127.0.0.1:"+strconv.Itoa(free))

	// the controller is usable again
	if err = c.Start(ctx, config.Static(&config.Config{Instances: []config.InstanceConfig{plainInstance(0)}})); err != nil {
		t.Fatal(err)
	}
	c.Stop(ctx)
}

func TestStartBestEffort(t *testing.T) {
	ctx := context.Background()

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer occupied.Close()
	busy := occupied.Addr().(*net.TCPAddr).Port

	c := New(Stages(helloStage), BestEffort(true))
	err = c.Start(ctx, config.Static(&config.Config{
		Instances: []config.InstanceConfig{plainInstance(0), plainInstance(busy)},
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop(ctx)

	if c.State() != Running || len(c.Listeners()) != 1 {
		t.Fatalf("state %s with %d listeners", c.State(), len(c.Listeners()))
	}
}

func TestStopIdle(t *testing.T) {
	c := New()
	c.Stop(context.Background())
	if c.State() != Idle {
		t.Errorf("state %s", c.State())
	}
}

func TestStopRunning(t *testing.T) {
	ctx := context.Background()
	c := New(Stages(helloStage), ShutdownTimeout(time.Second))
	err := c.Start(ctx, config.Static(&config.Config{
		Instances: []config.InstanceConfig{plainInstance(0), plainInstance(0), plainInstance(0)},
	}))
	if err != nil {
		t.Fatal(err)
	}

	ls := c.Listeners()
	if len(ls) != 3 {
		t.Fatalf("%d listeners", len(ls))
	}
	c.Stop(ctx)

	if c.State() != Idle || len(c.Listeners()) != 0 {
		t.Fatalf("state %s with %d listeners", c.State(), len(c.Listeners()))
	}
	for _, l := range ls {
		if l.Live() {
			t.Errorf("%s still live", l.URL())
		}
		assertClosed(t, l.Addr().String())
	}
}

func TestPlainAndSecuredRestart(t *testing.T) {
	ctx := context.Background()
	tc := newTestCert(t)

	src := config.Static(&config.Config{
		Instances: []config.InstanceConfig{
			{Protocol: "plain", Port: 0, Hostname: "localhost"},
			{Protocol: "secured", Port: 0, Hostname: "localhost", KeyPath: tc.KeyPath, CertPath: tc.CertPath},
		},
	})
	client := &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: tc.Pool}},
		Timeout:   5 * time.Second,
	}
	defer client.CloseIdleConnections()

	c := New(Stages(helloStage))
	for round := 0; round < 2; round++ {
		if err := c.Start(ctx, src); err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		ls := c.Listeners()
		if len(ls) != 2 {
			t.Fatalf("round %d: %d listeners", round, len(ls))
		}
		for _, l := range ls {
			if got := get(t, client, l.URL()); got != teststring {
				t.Errorf("%s: unexpected reply %q", l.URL(), got)
			}
		}
		client.CloseIdleConnections()

		c.Stop(ctx)
		for _, l := range ls {
			assertClosed(t, l.Addr().String())
		}
	}
}

func TestSecuredBundle(t *testing.T) {
	ctx := context.Background()
	tc := newTestCert(t)

	c := New(Stages(helloStage))
	err := c.Start(ctx, config.Static(&config.Config{
		Instances: []config.InstanceConfig{
			{Protocol: "https", Port: 0, Hostname: "127.0.0.1", BundlePath: tc.BundlePath},
		},
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop(ctx)

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: tc.Pool}}}
	defer client.CloseIdleConnections()
	if got := get(t, client, c.Listeners()[0].URL()); got != teststring {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestStartCredentialError(t *testing.T) {
	tc := newTestCert(t)
	c := New(Stages(helloStage))
	err := c.Start(context.Background(), config.Static(&config.Config{
		Instances: []config.InstanceConfig{
			plainInstance(0),
			{Protocol: config.Secured, Port: 0, Hostname: "127.0.0.1", KeyPath: tc.KeyPath},
		},
	}))
	var ce *CredentialError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CredentialError, got %v", err)
	}
	if c.State() != Idle || len(c.Listeners()) != 0 {
		t.Errorf("state %s with %d listeners", c.State(), len(c.Listeners()))
	}
}

func TestStartConfigError(t *testing.T) {
	c := New()
	err := c.Start(context.Background(), config.Static(&config.Config{}))
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if c.State() != Idle {
		t.Errorf("state %s", c.State())
	}
}

func TestSubsystemFailure(t *testing.T) {
	var trace []string
	boom := errors.New("boom")
	c := New(Stages(
		recordingStage("first", &trace, nil),
		recordingStage("second", &trace, boom),
		recordingStage("third", &trace, nil),
	))

	hc, cfg, err := c.Init(context.Background(), config.Port(0))
	if !errors.Is(err, boom) {
		t.Fatalf("expected stage error, got %v", err)
	}
	var se *SubsystemInitError
	if !errors.As(err, &se) || se.Stage != "second" {
		t.Fatalf("expected SubsystemInitError for second stage, got %v", err)
	}
	if hc != nil || cfg != nil {
		t.Error("partial state returned")
	}
	if len(trace) != 2 {
		t.Errorf("third stage ran: %v", trace)
	}
	if c.State() != Idle {
		t.Errorf("state %s", c.State())
	}
}

func TestInit(t *testing.T) {
	c := New(Stages(helloStage))
	hc, cfg, err := c.Init(context.Background(), config.Port(8080))
	if err != nil {
		t.Fatal(err)
	}
	if c.State() != Idle || len(c.Listeners()) != 0 {
		t.Fatalf("Init left state %s with %d listeners", c.State(), len(c.Listeners()))
	}
	if hc.Handler() == nil {
		t.Fatal("handler not built")
	}
	if got := hc.Get(SettingBaseURL); got != "http://localhost:8080" {
		t.Errorf("baseURL %v", got)
	}
	if len(cfg.Instances) != 1 || cfg.Instances[0].Protocol != config.Plain {
		t.Errorf("unexpected effective config %+v", cfg)
	}
}

func TestConfigStages(t *testing.T) {
	var trace []string
	RegisterStage(recordingStage("cfg-a", &trace, nil))
	RegisterStage(recordingStage("cfg-b", &trace, nil))

	c := New(Stages(recordingStage("builtin", &trace, nil)))
	_, _, err := c.Init(context.Background(), config.Static(&config.Config{
		Instances: []config.InstanceConfig{plainInstance(0)},
		Stages:    []string{"cfg-b", "cfg-a"},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(trace) != 2 || trace[0] != "cfg-b" || trace[1] != "cfg-a" {
		t.Errorf("config stages not used in order: %v", trace)
	}
}

func TestBaseURL(t *testing.T) {
	ctx := context.Background()
	c := New(Stages(helloStage))
	if c.BaseURL() != "" {
		t.Error("BaseURL while idle")
	}
	err := c.Start(ctx, config.Static(&config.Config{
		Instances:            []config.InstanceConfig{plainInstance(0), {Port: 0, Hostname: "localhost"}},
		PrimaryInstanceIndex: 1,
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop(ctx)
	if got := c.BaseURL(); got != "http://localhost:0" {
		t.Errorf("BaseURL %s", got)
	}
}
