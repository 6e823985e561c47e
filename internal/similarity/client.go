package similarity

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// inferTimeout is the client-side ceiling on one inference request.
// On timeout the caller fails; the worker keeps going and its late
// answer is silently discarded.
const inferTimeout = 60 * time.Second

// WorkerClient multiplexes inference requests over one sidecar worker
// process. The worker is spawned once and lives for the process
// lifetime; concurrent callers share its FIFO through correlation ids.
type WorkerClient struct {
	binary string
	args   []string
	log    *logrus.Entry

	// fatal is called when the worker dies without a requested
	// shutdown. Overridable in tests; defaults to logrus.Fatal.
	fatal func(err error)

	startOnce sync.Once
	startErr  error

	writeMu sync.Mutex
	stdin   io.WriteCloser

	mu           sync.Mutex
	pending      map[int]chan *Response
	nextID       int
	shuttingDown bool
}

// NewWorkerClient prepares a client for the given worker command,
// typically this binary re-invoked with the worker subcommand.
func NewWorkerClient(binary string, args []string, log *logrus.Logger) *WorkerClient {
	c := &WorkerClient{
		binary:  binary,
		args:    args,
		log:     log.WithField("component", "similarity-worker"),
		pending: make(map[int]chan *Response),
	}
	c.fatal = func(err error) {
		c.log.WithError(err).Fatal("inference worker died")
	}
	return c
}

// Start spawns the worker. Idempotent; production calls it at boot,
// development on first use.
func (c *WorkerClient) Start() error {
	c.startOnce.Do(func() {
		c.startErr = c.spawn()
	})
	return c.startErr
}

func (c *WorkerClient) spawn() error {
	cmd := exec.Command(c.binary, c.args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open worker stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn inference worker: %w", err)
	}
	c.stdin = stdin
	c.log.WithField("pid", cmd.Process.Pid).Info("inference worker spawned")

	go c.readLoop(stdout)
	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		down := c.shuttingDown
		c.mu.Unlock()
		if !down {
			if err == nil {
				err = fmt.Errorf("inference worker exited unexpectedly")
			}
			c.fatal(err)
		}
	}()
	return nil
}

func (c *WorkerClient) readLoop(stdout io.Reader) {
	for {
		var res Response
		if err := readFrame(stdout, &res); err != nil {
			if err != io.EOF {
				c.log.WithError(err).Warn("worker stream closed")
			}
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[res.ID]
		delete(c.pending, res.ID)
		c.mu.Unlock()

		if !ok {
			// A caller already timed out; drop the late answer.
			c.log.WithField("id", res.ID).Debug("discarding uncorrelated response")
			continue
		}
		ch <- &res
	}
}

// Infer sends a batch of images and waits for their embedding vectors.
func (c *WorkerClient) Infer(ctx context.Context, images [][]byte) ([][]float32, error) {
	if err := c.Start(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan *Response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := &Request{ID: id, Images: images}
	c.writeMu.Lock()
	err := writeFrame(c.stdin, req)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("failed to send inference request: %w", err)
	}

	timer := time.NewTimer(inferTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-timer.C:
		c.forget(id)
		return nil, fmt.Errorf("inference request %d timed out after %s", id, inferTimeout)
	case res := <-ch:
		if res.Error != "" {
			return nil, fmt.Errorf("inference failed: %s", res.Error)
		}
		return res.Vectors, nil
	}
}

func (c *WorkerClient) forget(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Shutdown requests a worker exit by closing its stdin. The exit is
// then expected and not fatal.
func (c *WorkerClient) Shutdown() {
	c.mu.Lock()
	c.shuttingDown = true
	stdin := c.stdin
	c.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
}
