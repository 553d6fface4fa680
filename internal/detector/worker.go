package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/SoarinFerret/FocusWarden/internal/geometry"
	"github.com/SoarinFerret/FocusWarden/internal/landmarks"
)

// maxMessageSize bounds one framed message from the worker.
const maxMessageSize = 32 << 20

const defaultWorkerTimeout = 2 * time.Second

// WorkerConfig describes the landmark worker process.
type WorkerConfig struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// workerRequest is sent to the worker's stdin.
type workerRequest struct {
	Type      string `msgpack:"type"`
	Seq       uint64 `msgpack:"seq"`
	FrameData []byte `msgpack:"frame_data,omitempty"`
	Width     int    `msgpack:"width,omitempty"`
	Height    int    `msgpack:"height,omitempty"`
	Format    string `msgpack:"format,omitempty"`
}

// workerResponse is read from the worker's stdout.
type workerResponse struct {
	Type     string             `msgpack:"type"`
	Seq      uint64             `msgpack:"seq"`
	Faces    [][]geometry.Point `msgpack:"faces"`
	Error    string             `msgpack:"error,omitempty"`
	TimingMS float64            `msgpack:"timing_ms,omitempty"`
}

// Worker runs landmark detection in a subprocess. Messages in both
// directions are a 4 byte big-endian length followed by a msgpack map.
type Worker struct {
	cfg WorkerConfig

	// dial opens the worker streams; replaced in tests.
	dial func(ctx context.Context) (io.ReadCloser, io.WriteCloser, error)

	mu      sync.Mutex // one request in flight
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	cmd     *exec.Cmd
	replies chan workerResponse
	done    chan struct{}
	wg      sync.WaitGroup

	seq   atomic.Uint64
	ready atomic.Bool
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWorkerTimeout
	}
	w := &Worker{cfg: cfg}
	w.dial = w.spawn
	return w
}

func (w *Worker) spawn(ctx context.Context) (io.ReadCloser, io.WriteCloser, error) {
	cmd := exec.Command(w.cfg.Command, w.cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start landmark worker: %w", err)
	}
	log.Printf("Landmark worker started: %s (pid %d)", w.cfg.Command, cmd.Process.Pid)
	w.cmd = cmd

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Printf("landmark worker: %s", scanner.Text())
		}
	}()
	go func() {
		defer w.wg.Done()
		if err := cmd.Wait(); err != nil {
			log.Printf("Landmark worker exited: %v", err)
		}
		w.ready.Store(false)
	}()

	return stdout, stdin, nil
}

// Initialize starts the worker and waits for it to answer a ping.
func (w *Worker) Initialize(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ready.Load() {
		return nil
	}

	stdout, stdin, err := w.dial(ctx)
	if err != nil {
		return err
	}
	w.stdout, w.stdin = stdout, stdin
	w.replies = make(chan workerResponse, 4)
	w.done = make(chan struct{})

	w.wg.Add(1)
	go w.readReplies(w.stdout, w.replies, w.done)

	resp, err := w.roundTrip(ctx, workerRequest{Type: "ping"})
	if err != nil {
		w.shutdown()
		return fmt.Errorf("landmark worker handshake failed: %w", err)
	}
	if resp.Type != "ready" {
		w.shutdown()
		return fmt.Errorf("landmark worker handshake failed: unexpected %q", resp.Type)
	}

	w.ready.Store(true)
	return nil
}

func (w *Worker) IsReady() bool {
	return w.ready.Load()
}

// Detect sends the frame image to the worker and returns the first face.
func (w *Worker) Detect(ctx context.Context, frame Frame) (*landmarks.FaceLandmarks, error) {
	if !w.ready.Load() {
		return nil, ErrNotReady
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	resp, err := w.roundTrip(ctx, workerRequest{
		Type:      "detect",
		FrameData: frame.Data,
		Width:     frame.Width,
		Height:    frame.Height,
		Format:    frame.Format,
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("landmark worker: %s", resp.Error)
	}
	if len(resp.Faces) == 0 {
		return nil, ErrNoFace
	}
	return landmarks.New(resp.Faces[0]), nil
}

// roundTrip writes req and waits for the reply carrying the same sequence.
// Replies to earlier, timed out requests are dropped. Callers hold w.mu.
func (w *Worker) roundTrip(ctx context.Context, req workerRequest) (workerResponse, error) {
	req.Seq = w.seq.Add(1)
	if err := writeMessage(w.stdin, req); err != nil {
		return workerResponse{}, err
	}

	timer := time.NewTimer(w.cfg.Timeout)
	defer timer.Stop()

	for {
		select {
		case resp, ok := <-w.replies:
			if !ok {
				w.ready.Store(false)
				return workerResponse{}, fmt.Errorf("landmark worker closed its output")
			}
			if resp.Seq != req.Seq {
				continue
			}
			return resp, nil
		case <-timer.C:
			return workerResponse{}, fmt.Errorf("landmark worker timed out after %s", w.cfg.Timeout)
		case <-ctx.Done():
			return workerResponse{}, ctx.Err()
		}
	}
}

func (w *Worker) readReplies(r io.Reader, out chan<- workerResponse, done <-chan struct{}) {
	defer w.wg.Done()
	defer close(out)

	for {
		var resp workerResponse
		if err := readMessage(r, &resp); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				log.Printf("landmark worker: failed to read reply: %v", err)
			}
			return
		}
		select {
		case out <- resp:
		case <-done:
			return
		}
	}
}

// Close stops the worker process.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.shutdown()
	return nil
}

// shutdown releases the streams and the process. Callers hold w.mu.
func (w *Worker) shutdown() {
	w.ready.Store(false)
	if w.done != nil {
		close(w.done)
		w.done = nil
	}
	if w.stdin != nil {
		w.stdin.Close()
		w.stdin = nil
	}
	if w.stdout != nil {
		w.stdout.Close()
		w.stdout = nil
	}
	if w.cmd != nil && w.cmd.Process != nil {
		w.cmd.Process.Kill()
		w.cmd = nil
	}
	w.wg.Wait()
}

func writeMessage(wr io.Writer, v interface{}) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal worker message: %w", err)
	}
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(data)))
	if _, err := wr.Write(prefix); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := wr.Write(data); err != nil {
		return fmt.Errorf("failed to write worker message: %w", err)
	}
	return nil
}

func readMessage(r io.Reader, v interface{}) error {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(prefix)
	if n > maxMessageSize {
		return fmt.Errorf("worker message too large: %d bytes", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("failed to read worker message: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal worker message: %w", err)
	}
	return nil
}
