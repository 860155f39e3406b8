package sandbox

import (
	"io"
	"testing"
	"time"
)

func TestShell_OutputPumpDeliversChunks(t *testing.T) {
	stdoutR, stdoutW := io.Pipe()
	sh := NewShell(nil, stdoutR, true, nil)

	out := sh.Output()
	go func() {
		_, _ = stdoutW.Write([]byte("hello "))
		_, _ = stdoutW.Write([]byte("world"))
		_ = stdoutW.Close()
	}()

	var got []byte
	for chunk := range out {
		got = append(got, chunk...)
	}
	if string(got) != "hello world" {
		t.Errorf("pumped output = %q, want %q", got, "hello world")
	}
	if sh.ReadErr() != io.EOF {
		t.Errorf("ReadErr() = %v, want io.EOF", sh.ReadErr())
	}
}

func TestShell_OutputIsSharedAcrossCallers(t *testing.T) {
	stdoutR, stdoutW := io.Pipe()
	sh := NewShell(nil, stdoutR, true, nil)
	defer func() { _ = stdoutW.Close() }()

	first := sh.Output()
	second := sh.Output()
	if first != second {
		t.Fatal("Output() should return the same channel for every caller")
	}

	go func() { _, _ = stdoutW.Write([]byte("one")) }()
	select {
	case chunk := <-second:
		if string(chunk) != "one" {
			t.Errorf("chunk = %q, want one", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chunk")
	}
}

func TestShell_ExitWatcherClosesDone(t *testing.T) {
	exited := make(chan struct{})
	sh := NewShell(nil, nil, true, func() (int, error) {
		<-exited
		return 0, nil
	})

	select {
	case <-sh.Done():
		t.Fatal("Done() closed before the process exited")
	case <-time.After(20 * time.Millisecond):
	}

	// Nothing calls Wait; the watcher alone must observe the exit
	close(exited)
	select {
	case <-sh.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() not closed after process exit")
	}
}

func TestShell_StdoutEOFClosesDone(t *testing.T) {
	stdoutR, stdoutW := io.Pipe()
	sh := NewShell(nil, stdoutR, true, nil)

	out := sh.Output()
	_ = stdoutW.Close()
	for range out {
	}

	select {
	case <-sh.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() not closed after stdout ended")
	}
}

func TestShell_WaitClosesDone(t *testing.T) {
	sh := NewShell(nil, nil, true, func() (int, error) { return 7, nil })

	code, err := sh.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}

	select {
	case <-sh.Done():
	default:
		t.Error("Done() should be closed after Wait()")
	}
}

func TestShell_CloseIsIdempotent(t *testing.T) {
	stdoutR, stdoutW := io.Pipe()
	sh := NewShell(nil, stdoutR, true, nil)
	_ = stdoutW.Close()

	if err := sh.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sh.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	select {
	case <-sh.Done():
	default:
		t.Error("Done() should be closed after Close()")
	}
}
