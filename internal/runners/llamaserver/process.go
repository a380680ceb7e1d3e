package llamaserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
)

const stderrTail = 4096

// process is one spawned llama-server bound to a model file.
type process struct {
	cmd     *exec.Cmd
	baseURL string
	exited  chan struct{}
	waitErr error
	stderr  *tailBuffer
}

// tailBuffer keeps the last bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - stderrTail; over > 0 {
		t.buf = t.buf[over:]
	}
	t.mu.Unlock()
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	_, port, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}

// serverArgs builds the llama-server command line.
func serverArgs(modelPath, host string, port int, lp loadParams, extra []string) []string {
	args := []string{
		"-m", modelPath,
		"--host", host,
		"--port", strconv.Itoa(port),
	}
	if lp.CtxSize > 0 {
		args = append(args, "-c", strconv.Itoa(lp.CtxSize))
	}
	if lp.GPULayers > 0 {
		args = append(args, "-ngl", strconv.Itoa(lp.GPULayers))
	}
	if lp.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(lp.Threads))
	}
	return append(args, extra...)
}

// spawn starts llama-server for modelPath and waits until it answers.
// The process is not tied to ctx; ctx only bounds the readiness wait.
func (r *Runner) spawn(ctx context.Context, modelPath string, lp loadParams) (*process, error) {
	port, err := pickFreePort(r.cfg.Host)
	if err != nil {
		return nil, err
	}
	p := &process{
		baseURL: fmt.Sprintf("http://%s", net.JoinHostPort(r.cfg.Host, strconv.Itoa(port))),
		exited:  make(chan struct{}),
		stderr:  &tailBuffer{},
	}
	p.cmd = exec.Command(r.cfg.Binary, serverArgs(modelPath, r.cfg.Host, port, lp, r.cfg.ExtraArgs)...)
	p.cmd.Stderr = p.stderr
	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start llama-server: %w", err)
	}
	go func() {
		p.waitErr = p.cmd.Wait()
		close(p.exited)
	}()
	r.log.Info().Str("model", modelPath).Int("pid", p.cmd.Process.Pid).Str("url", p.baseURL).Msg("spawn start")

	if err := r.waitReady(ctx, p); err != nil {
		p.stop(r.cfg.StopTimeout)
		return nil, err
	}
	r.log.Info().Str("model", modelPath).Int("pid", p.cmd.Process.Pid).Msg("spawn ready")
	return p, nil
}

var errNotReady = errors.New("llama-server not ready")

// waitReady polls the health endpoint until it succeeds, the process
// exits, or the ready timeout passes.
func (r *Runner) waitReady(ctx context.Context, p *process) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReadyTimeout)
	defer cancel()
	c := r.client(p.baseURL)
	err := retry.Do(
		func() error {
			select {
			case <-p.exited:
				if p.waitErr != nil {
					return retry.Unrecoverable(fmt.Errorf("llama-server exited early: %v; stderr tail: %s", p.waitErr, p.stderr.String()))
				}
				return retry.Unrecoverable(fmt.Errorf("llama-server exited before ready: %s", p.baseURL))
			default:
			}
			if err := c.healthy(ctx); err != nil {
				return errors.Join(errNotReady, err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil && ctx.Err() != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("llama-server not ready in %s: %s", r.cfg.ReadyTimeout, p.baseURL)
	}
	return err
}

// stop sends SIGTERM, then kills the process after timeout.
func (p *process) stop(timeout time.Duration) {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return
	}
	select {
	case <-p.exited:
		return
	default:
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.exited:
	case <-t.C:
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
}

func (p *process) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}
