package runner

import (
	"bytes"
	"context"
	"io"
	"runtime"
	"testing"
	"time"
)

func pipeMode() *Mode {
	m := ModePipe
	return &m
}

func TestStartPipeModeCapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell")
	}
	p, err := Start(context.Background(), Options{
		Command:   `echo hello`,
		ForceMode: pipeMode(),
	})
	if err != nil {
		t.Fatal(err)
	}
	out, ok := p.TakeOutputReader()
	if !ok {
		t.Fatal("expected an output reader")
	}
	data, err := io.ReadAll(out)
	if err != nil {
		t.Fatal(err)
	}
	code, err := p.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if string(data) != "hello\n" {
		t.Fatalf("output = %q, want %q", data, "hello\n")
	}
}

func TestTakeOutputReaderSecondCallFails(t *testing.T) {
	p, err := Start(context.Background(), Options{Command: "true", ForceMode: pipeMode()})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.TakeOutputReader(); !ok {
		t.Fatal("first take should succeed")
	}
	if _, ok := p.TakeOutputReader(); ok {
		t.Fatal("second take should fail")
	}
	p.Wait()
}

func TestExitCodeIsPropagatedOnFailure(t *testing.T) {
	p, err := Start(context.Background(), Options{
		Command:   `sh -c "exit 3"`,
		ForceMode: pipeMode(),
	})
	if err != nil {
		t.Fatal(err)
	}
	code, _ := p.Wait()
	if code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
}

func TestInputWriterIsPipedThrough(t *testing.T) {
	p, err := Start(context.Background(), Options{
		Command:   "cat",
		ForceMode: pipeMode(),
	})
	if err != nil {
		t.Fatal(err)
	}
	w, ok := p.TakeInputWriter()
	if !ok {
		t.Fatal("expected an input writer")
	}
	out, _ := p.TakeOutputReader()

	go func() {
		w.Write([]byte("roundtrip"))
		w.(io.Closer).Close()
	}()

	var buf bytes.Buffer
	io.Copy(&buf, out)
	p.Wait()
	if buf.String() != "roundtrip" {
		t.Fatalf("output = %q, want roundtrip", buf.String())
	}
}

func TestTerminateKillsSurvivor(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on unix signal semantics")
	}
	p, err := Start(context.Background(), Options{
		Command:   `sh -c "trap '' TERM; sleep 5"`,
		ForceMode: pipeMode(),
	})
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := p.Terminate(200 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Terminate took too long to force-kill: %s", elapsed)
	}
	p.Wait()
}
