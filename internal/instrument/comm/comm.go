/*
Package comm provides the line-oriented transport used to talk to lab
instruments over TCP or a serial port.

A Conn terminates every command with the Tx terminator and reads responses up
to the Rx terminator, so SCPI style instruments boil down to:

	conn := comm.New(comm.Config{Addr: "192.168.0.20:5025"})
	if err := conn.Open(ctx); err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Send(ctx, "FREQ 80000000"); err != nil {
		return err
	}
	idn, err := conn.Query(ctx, "*IDN?")

Commands are serialised and paced, a Conn is safe for concurrent use.
*/
package comm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

const (
	DefaultTerminator     = byte('\n')
	DefaultBaud           = 9600
	DefaultTimeout        = 3 * time.Second
	DefaultConnectTimeout = 3 * time.Second
)

var (
	// ErrNotConnected is returned when Send or Query is called before Open.
	ErrNotConnected = errors.New("not connected to remote")

	// ErrTerminatorNotFound is returned when a response ends without the Rx terminator.
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Config describes how to reach an instrument
type Config struct {
	Addr           string        `yaml:"addr" koanf:"addr"`       // host:port, or the serial device when Serial is set
	Serial         bool          `yaml:"serial" koanf:"serial"`   // use a serial port instead of TCP
	Baud           int           `yaml:"baud" koanf:"baud"`       // serial baud rate
	Timeout        time.Duration `yaml:"timeout" koanf:"timeout"` // per command read/write timeout
	ConnectTimeout time.Duration `yaml:"connectTimeout" koanf:"connectTimeout"`
	MinInterval    time.Duration `yaml:"minInterval" koanf:"minInterval"` // minimum spacing between commands
	TxTerminator   byte          `yaml:"-" koanf:"-"`
	RxTerminator   byte          `yaml:"-" koanf:"-"`
}

// Dialer opens the raw connection to the instrument
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// WithDialer replaces the TCP/serial dialer, e.g. with one end of a net.Pipe
func WithDialer(dial Dialer) func(*Conn) {
	return func(c *Conn) {
		c.dial = dial
	}
}

// WithLogger sets the logger for the connection
func WithLogger(logger *slog.Logger) func(*Conn) {
	return func(c *Conn) {
		c.logger = logger.With(slog.String("addr", c.cfg.Addr))
	}
}

// Conn is a terminated line connection to an instrument
type Conn struct {
	cfg     Config
	dial    Dialer
	limiter *rate.Limiter

	mu     sync.Mutex
	rwc    io.ReadWriteCloser
	reader *bufio.Reader

	logger *slog.Logger
}

// New creates a Conn. Nothing is dialled until Open.
func New(cfg Config, options ...func(*Conn)) *Conn {
	if cfg.TxTerminator == 0 {
		cfg.TxTerminator = DefaultTerminator
	}
	if cfg.RxTerminator == 0 {
		cfg.RxTerminator = DefaultTerminator
	}
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	c := Conn{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	c.dial = c.dialRemote

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Addr returns the configured address
func (c *Conn) Addr() string {
	return c.cfg.Addr
}

// Open connects to the instrument, retrying with an exponential backoff
// until the connect timeout has elapsed. Some instruments do not like being
// connection thrashed.
func (c *Conn) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rwc != nil {
		return nil
	}

	var rwc io.ReadWriteCloser
	op := func() error {
		var err error
		rwc, err = c.dial(ctx)
		if err != nil {
			c.logger.Debug(fmt.Sprintf("connect attempt failed: %s", err.Error()))
		}
		return err
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      c.cfg.ConnectTimeout,
		Clock:               backoff.SystemClock,
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("connecting to %s: %w", c.cfg.Addr, err)
	}

	c.rwc = rwc
	c.reader = bufio.NewReader(rwc)
	c.logger.Debug("connected")
	return nil
}

// Close the connection. Closing a closed Conn is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rwc == nil {
		return nil
	}
	err := c.rwc.Close()
	c.rwc = nil
	c.reader = nil
	return err
}

// Send writes cmd followed by the Tx terminator
func (c *Conn) Send(ctx context.Context, cmd string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.send(cmd)
}

// Query sends cmd and returns the response with the Rx terminator and any
// trailing carriage return stripped
func (c *Conn) Query(ctx context.Context, cmd string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.send(cmd); err != nil {
		return "", err
	}
	return c.recv()
}

// QueryFloat sends cmd and parses the response as a floating point value
func (c *Conn) QueryFloat(ctx context.Context, cmd string) (float64, error) {
	resp, err := c.Query(ctx, cmd)
	if err != nil {
		return 0, err
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing response to '%s': %w", cmd, err)
	}
	return f, nil
}

func (c *Conn) send(cmd string) error {
	if c.rwc == nil {
		return ErrNotConnected
	}

	c.setDeadline()
	b := append([]byte(cmd), c.cfg.TxTerminator)
	if _, err := c.rwc.Write(b); err != nil {
		return fmt.Errorf("writing '%s': %w", cmd, err)
	}

	c.logger.Debug("sent", slog.String("cmd", cmd))
	return nil
}

func (c *Conn) recv() (string, error) {
	if c.reader == nil {
		return "", ErrNotConnected
	}

	c.setDeadline()
	line, err := c.reader.ReadString(c.cfg.RxTerminator)
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return line, ErrTerminatorNotFound
		}
		return "", fmt.Errorf("reading response: %w", err)
	}

	line = strings.TrimSuffix(line, string(c.cfg.RxTerminator))
	return strings.TrimSuffix(line, "\r"), nil
}

func (c *Conn) setDeadline() {
	if dc, ok := c.rwc.(interface{ SetDeadline(time.Time) error }); ok {
		_ = dc.SetDeadline(time.Now().Add(c.cfg.Timeout))
	}
}

func (c *Conn) dialRemote(ctx context.Context) (io.ReadWriteCloser, error) {
	if c.cfg.Serial {
		port, err := serial.OpenPort(&serial.Config{
			Name:        c.cfg.Addr,
			Baud:        c.cfg.Baud,
			ReadTimeout: c.cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return port, nil
	}

	var d net.Dialer
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return d.DialContext(ctx, "tcp", c.cfg.Addr)
}
