package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/portless-dev/portless/internal/client"
	"github.com/portless-dev/portless/internal/config"
	"github.com/portless-dev/portless/internal/protocol"
	"github.com/portless-dev/portless/internal/store"
)

type testDaemon struct {
	paths  config.Paths
	client *client.Client
	runErr chan error
	cancel context.CancelFunc
}

// startDaemon boots a full daemon on ephemeral listeners rooted in a temp
// directory and waits until the control socket answers.
func startDaemon(t *testing.T, root string) *testDaemon {
	t.Helper()

	paths, err := config.EnsurePaths(root)
	if err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}

	st, err := store.Open(store.Options{Path: paths.StateDB})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	d, err := New(Options{
		Paths:    paths,
		Store:    st,
		HTTPAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		runErr <- d.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	c := client.New(paths.Socket)
	deadline := time.Now().Add(5 * time.Second)
	for !c.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("control socket never came up")
		}
		time.Sleep(10 * time.Millisecond)
	}

	return &testDaemon{paths: paths, client: c, runErr: runErr, cancel: cancel}
}

func protocolCode(t *testing.T, err error) int {
	t.Helper()

	var perr *protocol.Error
	if !errors.As(err, &perr) {
		t.Fatalf("error %v is not a protocol error", err)
	}
	return perr.Code
}

func TestRegisterExternalService(t *testing.T) {
	td := startDaemon(t, t.TempDir())

	result, err := td.client.Register(protocol.RegisterData{
		Domain:    "api.localhost",
		Directory: "/tmp/api",
		Port:      4200,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if result.Port != 4200 {
		t.Errorf("Port = %d, want 4200", result.Port)
	}
	if result.PID != 0 {
		t.Errorf("PID = %d, want 0 for external service", result.PID)
	}

	services, err := td.client.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(services) != 1 || services[0].Domain != "api.localhost" {
		t.Fatalf("List = %+v", services)
	}
	if !services[0].Alive {
		t.Error("external service reported dead")
	}
}

func TestRegisterDuplicateDomain(t *testing.T) {
	td := startDaemon(t, t.TempDir())

	if _, err := td.client.Register(protocol.RegisterData{Domain: "app.localhost", Port: 4300}); err != nil {
		t.Fatalf("first Register: %v", err)
	}

	_, err := td.client.Register(protocol.RegisterData{Domain: "APP.localhost", Port: 4301})
	if err == nil {
		t.Fatal("duplicate Register succeeded")
	}
	if code := protocolCode(t, err); code != protocol.CodeDomainAlreadyBound {
		t.Errorf("code = %d, want %d", code, protocol.CodeDomainAlreadyBound)
	}
}

func TestRegisterWithoutCommandOrPort(t *testing.T) {
	td := startDaemon(t, t.TempDir())

	_, err := td.client.Register(protocol.RegisterData{Domain: "half.localhost"})
	if err == nil {
		t.Fatal("Register succeeded without command or port")
	}
	if code := protocolCode(t, err); code != protocol.CodeInvalidRequest {
		t.Errorf("code = %d, want %d", code, protocol.CodeInvalidRequest)
	}
}

func TestStopRemovesRoute(t *testing.T) {
	td := startDaemon(t, t.TempDir())

	if _, err := td.client.Register(protocol.RegisterData{Domain: "web.localhost", Port: 4400}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := td.client.Stop("web.localhost"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	services, err := td.client.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(services) != 0 {
		t.Fatalf("List after stop = %+v", services)
	}

	err = td.client.Stop("web.localhost")
	if err == nil {
		t.Fatal("second Stop succeeded")
	}
	if code := protocolCode(t, err); code != protocol.CodeNotFound {
		t.Errorf("code = %d, want %d", code, protocol.CodeNotFound)
	}
}

func TestConcurrentRegistersGetDistinctPorts(t *testing.T) {
	td := startDaemon(t, t.TempDir())

	const n = 4
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ports = make(map[int]string)
	)
	for i := 0; i < n; i++ {
		domain := fmt.Sprintf("worker%d.localhost", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := td.client.Register(protocol.RegisterData{
				Domain:  domain,
				Command: "sleep 30",
			})
			if err != nil {
				t.Errorf("Register %s: %v", domain, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if prev, dup := ports[result.Port]; dup {
				t.Errorf("port %d handed to both %s and %s", result.Port, prev, domain)
				return
			}
			ports[result.Port] = domain
		}()
	}
	wg.Wait()

	for _, domain := range ports {
		if err := td.client.Stop(domain); err != nil {
			t.Errorf("Stop %s: %v", domain, err)
		}
	}
}

func TestStatusReportsDaemon(t *testing.T) {
	td := startDaemon(t, t.TempDir())

	if _, err := td.client.Register(protocol.RegisterData{Domain: "one.localhost", Port: 4500}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	status, err := td.client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", status.PID, os.Getpid())
	}
	if status.ServiceCount != 1 {
		t.Errorf("ServiceCount = %d, want 1", status.ServiceCount)
	}
	if status.HTTPSEnabled {
		t.Error("HTTPSEnabled = true, want false")
	}
}

func TestUnknownRequestType(t *testing.T) {
	td := startDaemon(t, t.TempDir())

	_, err := td.client.Send("frobnicate", nil)
	if err == nil {
		t.Fatal("unknown request type succeeded")
	}
	if code := protocolCode(t, err); code != protocol.CodeInvalidRequest {
		t.Errorf("code = %d, want %d", code, protocol.CodeInvalidRequest)
	}
}

func TestSchemaVersionRejected(t *testing.T) {
	td := startDaemon(t, t.TempDir())

	conn, err := net.Dial("unix", td.paths.Socket)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	req := protocol.Request{ID: "t1", Schema: 99, Type: protocol.RequestStatus}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var resp protocol.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if resp.Success {
		t.Fatal("mismatched schema accepted")
	}
	if resp.Error == nil || resp.Error.Code != protocol.CodeInvalidRequest {
		t.Fatalf("Error = %+v, want invalid request", resp.Error)
	}
}

func TestShutdownRequest(t *testing.T) {
	td := startDaemon(t, t.TempDir())

	if err := td.client.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case err := <-td.runErr:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit after shutdown request")
	}

	if _, running := IsRunning(td.paths); running {
		t.Error("IsRunning still true after shutdown")
	}
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	root := t.TempDir()

	td := startDaemon(t, root)
	if _, err := td.client.Register(protocol.RegisterData{Domain: "keep.localhost", Port: 4600}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := td.client.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-td.runErr:
	case <-time.After(5 * time.Second):
		t.Fatal("first daemon did not exit")
	}

	td2 := startDaemon(t, root)
	services, err := td2.client.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(services) != 1 || services[0].Domain != "keep.localhost" || services[0].Port != 4600 {
		t.Fatalf("restored services = %+v", services)
	}
}
