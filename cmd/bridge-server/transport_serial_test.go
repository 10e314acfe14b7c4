package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/etherlink/go-wifi-bridge/internal/frame"
	"github.com/etherlink/go-wifi-bridge/internal/usb"
)

// fakePort scripts Read results for the RX loop and records writes.
type fakePort struct {
	mu     sync.Mutex
	reads  []fakeRead
	writes [][]byte
	drain  chan struct{} // closed once the script is exhausted
	once   sync.Once
}

type fakeRead struct {
	data []byte
	err  error
}

func newFakePort(reads ...fakeRead) *fakePort {
	return &fakePort{reads: reads, drain: make(chan struct{})}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if len(p.reads) == 0 {
		p.mu.Unlock()
		p.once.Do(func() { close(p.drain) })
		time.Sleep(time.Millisecond) // emulate the device read timeout
		return 0, nil
	}
	r := p.reads[0]
	p.reads = p.reads[1:]
	p.mu.Unlock()
	n := copy(buf, r.data)
	return n, r.err
}

func (p *fakePort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	p.writes = append(p.writes, append([]byte(nil), buf...))
	p.mu.Unlock()
	return len(buf), nil
}

func (p *fakePort) Close() error { return nil }

func (p *fakePort) written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

func withFakePort(t *testing.T, p *fakePort) {
	t.Helper()
	orig := openUSBPort
	openUSBPort = func(name string, baud int, readTimeout time.Duration) (usb.Port, error) {
		return p, nil
	}
	t.Cleanup(func() { openUSBPort = orig })
}

func stubTransportSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var mu sync.Mutex
	var slept []time.Duration
	orig := sleepFn
	sleepFn = func(d time.Duration) {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
	}
	t.Cleanup(func() { sleepFn = orig })
	return &slept
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serialTestConfig() *appConfig {
	cfg := baseConfig()
	cfg.transport = "serial"
	return cfg
}

func TestSerialRXDeliversFrames(t *testing.T) {
	codec := usb.Codec{}
	pay1 := bytes.Repeat([]byte{0x11}, 60)
	pay2 := bytes.Repeat([]byte{0x22}, 60)
	env := append(codec.Encode(pay1), codec.Encode(pay2)...)

	// Split mid-envelope so reassembly across reads is exercised.
	p := newFakePort(
		fakeRead{data: env[:30]},
		fakeRead{data: env[30:]},
	)
	withFakePort(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	_, startRX, cleanup, err := initTransport(ctx, serialTestConfig(), testLogger(), &wg)
	if err != nil {
		t.Fatalf("initTransport: %v", err)
	}
	defer cleanup()

	var mu sync.Mutex
	var got [][]byte
	startRX(func(b []byte) {
		mu.Lock()
		got = append(got, b)
		mu.Unlock()
	})

	select {
	case <-p.drain:
	case <-time.After(2 * time.Second):
		t.Fatal("RX loop never consumed the script")
	}
	cancel()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || !bytes.Equal(got[0], pay1) || !bytes.Equal(got[1], pay2) {
		t.Fatalf("decoded %d frames; want the two scripted payloads", len(got))
	}
}

func TestSerialTXWritesEnvelope(t *testing.T) {
	p := newFakePort()
	withFakePort(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	send, _, cleanup, err := initTransport(ctx, serialTestConfig(), testLogger(), &wg)
	if err != nil {
		t.Fatalf("initTransport: %v", err)
	}

	pay := bytes.Repeat([]byte{0x33}, 64)
	if err := send(frame.New(frame.ToUSB, pay)); err != nil {
		t.Fatalf("send: %v", err)
	}

	want := usb.Codec{}.Encode(pay)
	deadline := time.Now().Add(2 * time.Second)
	for {
		w := p.written()
		if len(w) == 1 {
			if !bytes.Equal(w[0], want) {
				t.Fatalf("wrote % x; want % x", w[0], want)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("frame never written to the port")
		}
		time.Sleep(time.Millisecond)
	}
	cleanup()
}

func TestSerialRXBacksOffOnErrors(t *testing.T) {
	slept := stubTransportSleep(t)
	p := newFakePort(
		fakeRead{err: errors.New("bus glitch")},
		fakeRead{err: errors.New("bus glitch")},
		fakeRead{err: errors.New("bus glitch")},
	)
	withFakePort(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	_, startRX, cleanup, err := initTransport(ctx, serialTestConfig(), testLogger(), &wg)
	if err != nil {
		t.Fatalf("initTransport: %v", err)
	}
	defer cleanup()

	startRX(func([]byte) { t.Error("frame delivered from error-only script") })

	select {
	case <-p.drain:
	case <-time.After(2 * time.Second):
		t.Fatal("RX loop never consumed the script")
	}
	cancel()
	wg.Wait()

	want := []time.Duration{rxBackoffMin, 2 * rxBackoffMin, 4 * rxBackoffMin}
	if len(*slept) != len(want) {
		t.Fatalf("backoff sleeps = %v; want %v", *slept, want)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Fatalf("backoff sleeps = %v; want %v", *slept, want)
		}
	}
}

func TestSerialRXIgnoresEOF(t *testing.T) {
	slept := stubTransportSleep(t)
	codec := usb.Codec{}
	pay := bytes.Repeat([]byte{0x44}, 60)
	p := newFakePort(
		fakeRead{err: io.EOF},
		fakeRead{data: codec.Encode(pay)},
	)
	withFakePort(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	_, startRX, cleanup, err := initTransport(ctx, serialTestConfig(), testLogger(), &wg)
	if err != nil {
		t.Fatalf("initTransport: %v", err)
	}
	defer cleanup()

	var mu sync.Mutex
	var got [][]byte
	startRX(func(b []byte) {
		mu.Lock()
		got = append(got, b)
		mu.Unlock()
	})

	select {
	case <-p.drain:
	case <-time.After(2 * time.Second):
		t.Fatal("RX loop never consumed the script")
	}
	cancel()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || !bytes.Equal(got[0], pay) {
		t.Fatal("frame after transient EOF not delivered")
	}
	if len(*slept) != 0 {
		t.Fatalf("EOF triggered backoff: %v", *slept)
	}
}
