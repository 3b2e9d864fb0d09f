// Package script runs scripted connection scenarios.
//
// A script is a YAML document describing one exchange step by step: bytes
// sent and received, pauses, and how the exchange ends. The driver built
// from a script streams its bytes through the counting readers, so it
// produces the same progress notifications a real transport would.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meigma/conncall"
)

// DefaultChunk is the read size used to stream send and receive steps.
const DefaultChunk = 4096

// ErrInvalid indicates a script failed validation.
var ErrInvalid = errors.New("invalid script")

// failures maps the symbolic fail values to their sentinels.
var failures = map[string]error{
	"timeout":          conncall.ErrTimeout,
	"cancelled":        conncall.ErrCancelled,
	"unauthorized":     conncall.ErrUnauthorized,
	"forbidden":        conncall.ErrForbidden,
	"not_found":        conncall.ErrNotFound,
	"invalid_response": conncall.ErrInvalidResponse,
}

// Script is one scripted exchange.
type Script struct {
	Name    string            `yaml:"name,omitempty"`
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty"`
	Expect  Expect            `yaml:"expect,omitempty"`
	Chunk   int               `yaml:"chunk,omitempty"`
	Steps   []Step            `yaml:"steps"`
}

// Expect announces transfer sizes. Unset sizes are derived from the steps.
type Expect struct {
	Send    *int64 `yaml:"send,omitempty"`
	Receive *int64 `yaml:"receive,omitempty"`
}

// Step is a single action. Exactly one field must be set.
type Step struct {
	Send     int64         `yaml:"send,omitempty"`
	Receive  int64         `yaml:"receive,omitempty"`
	Delay    time.Duration `yaml:"delay,omitempty"`
	Complete *Completion   `yaml:"complete,omitempty"`
	Fail     string        `yaml:"fail,omitempty"`
	Hang     bool          `yaml:"hang,omitempty"`
}

// Completion is the response a script ends with.
type Completion struct {
	Status  int               `yaml:"status,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty"`
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{s.Send != 0, s.Receive != 0, s.Delay != 0, s.Complete != nil, s.Fail != "", s.Hang} {
		if set {
			n++
		}
	}
	return n
}

func (s Step) terminal() bool {
	return s.Complete != nil || s.Fail != "" || s.Hang
}

// Load reads and validates the script at path. A script without a name is
// named after its file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// Parse decodes and validates a script. Unknown fields are rejected.
func Parse(data []byte) (*Script, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Script
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the script is runnable: the request is complete, every
// step has one action, and exactly one terminal step comes last.
func (s *Script) Validate() error {
	var errs []error
	if s.Method == "" {
		errs = append(errs, errors.New("method is required"))
	}
	if s.URL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if s.Chunk < 0 {
		errs = append(errs, fmt.Errorf("chunk must not be negative: %d", s.Chunk))
	}
	if s.Expect.Send != nil && *s.Expect.Send < 0 {
		errs = append(errs, errors.New("expect.send must not be negative"))
	}
	if s.Expect.Receive != nil && *s.Expect.Receive < 0 {
		errs = append(errs, errors.New("expect.receive must not be negative"))
	}
	if len(s.Steps) == 0 {
		errs = append(errs, errors.New("at least one step is required"))
	}

	terminals := 0
	for i, step := range s.Steps {
		switch n := step.actions(); {
		case n == 0:
			errs = append(errs, fmt.Errorf("step %d: no action", i+1))
		case n > 1:
			errs = append(errs, fmt.Errorf("step %d: %d actions, want one", i+1, n))
		}
		if step.Send < 0 || step.Receive < 0 || step.Delay < 0 {
			errs = append(errs, fmt.Errorf("step %d: negative value", i+1))
		}
		if step.Complete != nil && step.Complete.Status != 0 &&
			(step.Complete.Status < 100 || step.Complete.Status > 599) {
			errs = append(errs, fmt.Errorf("step %d: status %d out of range", i+1, step.Complete.Status))
		}
		if step.terminal() {
			terminals++
			if i != len(s.Steps)-1 {
				errs = append(errs, fmt.Errorf("step %d: terminal step must be last", i+1))
			}
		}
	}
	if len(s.Steps) > 0 && terminals == 0 {
		errs = append(errs, errors.New("last step must complete, fail or hang"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Request returns the request the script describes.
func (s *Script) Request() conncall.Request {
	req := conncall.Request{Method: s.Method, URL: s.URL}
	if len(s.Headers) > 0 {
		req.Header = make(http.Header, len(s.Headers))
		for k, v := range s.Headers {
			req.Header.Set(k, v)
		}
	}
	if s.Body != "" {
		req.Body = []byte(s.Body)
	}
	return req
}

// TotalSend returns the bytes all send steps transfer.
func (s *Script) TotalSend() int64 {
	var n int64
	for _, step := range s.Steps {
		n += step.Send
	}
	return n
}

// TotalReceive returns the bytes all receive steps transfer.
func (s *Script) TotalReceive() int64 {
	var n int64
	for _, step := range s.Steps {
		n += step.Receive
	}
	return n
}

func (s *Script) expected() (send, receive int64) {
	send, receive = -1, -1
	if s.Expect.Send != nil {
		send = *s.Expect.Send
	} else if total := s.TotalSend(); total > 0 {
		send = total
	}
	if s.Expect.Receive != nil {
		receive = *s.Expect.Receive
	} else if total := s.TotalReceive(); total > 0 {
		receive = total
	}
	return send, receive
}

// Driver returns a driver that plays the script.
func (s *Script) Driver() conncall.Driver {
	return conncall.DriverFunc(func(ctx context.Context, rep conncall.Reporter) (*conncall.Response, error) {
		rep.SetExpected(s.expected())

		chunk := s.Chunk
		if chunk == 0 {
			chunk = DefaultChunk
		}
		buf := make([]byte, chunk)

		for _, step := range s.Steps {
			switch {
			case step.Send > 0:
				r := conncall.TrackSend(io.LimitReader(zeros{}, step.Send), rep)
				if err := drain(ctx, r, buf); err != nil {
					return nil, err
				}
			case step.Receive > 0:
				r := conncall.TrackReceive(io.LimitReader(zeros{}, step.Receive), rep)
				if err := drain(ctx, r, buf); err != nil {
					return nil, err
				}
			case step.Delay > 0:
				if err := sleep(ctx, step.Delay); err != nil {
					return nil, err
				}
			case step.Complete != nil:
				return step.Complete.response(), nil
			case step.Fail != "":
				return nil, s.failure(step.Fail)
			case step.Hang:
				<-ctx.Done()
				return nil, ctx.Err()
			}
		}
		return nil, fmt.Errorf("script %q ended without a terminal step", s.Name)
	})
}

func (s *Script) failure(msg string) error {
	if kind, ok := failures[msg]; ok {
		return &conncall.ConnectionError{Kind: kind}
	}
	return errors.New(msg)
}

func (c *Completion) response() *conncall.Response {
	status := c.Status
	if status == 0 {
		status = http.StatusOK
	}
	var header http.Header
	if len(c.Headers) > 0 {
		header = make(http.Header, len(c.Headers))
		for k, v := range c.Headers {
			header.Set(k, v)
		}
	}
	return conncall.NewResponse(status, header, []byte(c.Body))
}

// drain reads r to EOF in len(buf)-sized reads, stopping early when ctx ends.
func drain(ctx context.Context, r io.ReadCloser, buf []byte) error {
	defer r.Close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := r.Read(buf)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// zeros is an endless source of zero bytes.
type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
