// Package catalog records program runs, recordings and output files in a ClickHouse database.
// The catalog is optional: when the server cannot be reached every Record call is a no-op
// and recording goes on.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/oklog/ulid/v2"
	"github.com/ucb-seti/beespec"
)

const databaseName = "beespec" // official SQL name of the database

const timeFormat = "2006-01-02 15:04:05.000000"

// queueLength bounds the messages waiting for the database goroutine.
const queueLength = 256

// inserter is the part of clickhouse.Conn the catalog uses.
type inserter interface {
	AsyncInsert(ctx context.Context, query string, wait bool, args ...any) error
	Close() error
}

// Catalog is a connection to the run catalog. All inserts happen on one goroutine, in the
// order the messages were recorded.
type Catalog struct {
	conn     inserter
	err      error
	activity *ActivityMessage
	messages chan any
	mu       sync.Mutex // guards err
	sync.WaitGroup
}

// NewID returns a new sortable unique identifier for activities and recordings.
func NewID() string {
	return ulid.Make().String()
}

// IsConnected is true while the catalog accepts messages.
func (c *Catalog) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.err == nil
}

// Err is the error that disconnected the catalog, if any.
func (c *Catalog) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Catalog) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Options builds the connection options from the environment: BEESPEC_DB_ADDR
// (default localhost:9000), BEESPEC_DB_USER and BEESPEC_DB_PASSWORD.
func Options() *clickhouse.Options {
	addr := os.Getenv("BEESPEC_DB_ADDR")
	if addr == "" {
		addr = "localhost:9000"
	}
	return &clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: databaseName,
			Username: os.Getenv("BEESPEC_DB_USER"),
			Password: os.Getenv("BEESPEC_DB_PASSWORD"),
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "beespec", Version: beespec.Build.Version},
			},
		},
		DialTimeout: 5 * time.Second,
	}
}

func connect(ctx context.Context) (clickhouse.Conn, error) {
	conn, err := clickhouse.Open(Options())
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		var exception *clickhouse.Exception
		if errors.As(err, &exception) {
			err = fmt.Errorf("exception [%d] %s: %w", exception.Code, exception.Message, err)
		}
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// PingServer checks that the catalog server is alive and prints its version.
func PingServer(ctx context.Context) error {
	conn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	v, err := conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	return nil
}

// Start connects to the catalog, records the activity and serves messages until abort is
// closed. A failed connection is logged and yields a disconnected Catalog.
func Start(ctx context.Context, activity *ActivityMessage, abort <-chan struct{}) *Catalog {
	conn, err := connect(ctx)
	if err != nil {
		beespec.ProblemLogger.Printf("Run catalog not available: %v", err)
		return Disconnected()
	}
	return start(conn, activity, abort)
}

func start(conn inserter, activity *ActivityMessage, abort <-chan struct{}) *Catalog {
	c := &Catalog{
		conn:     conn,
		activity: activity,
		messages: make(chan any, queueLength),
	}
	c.logActivity()
	c.Add(1)
	go c.handleConnection(abort)
	return c
}

// Disconnected returns a Catalog that ignores every message.
func Disconnected() *Catalog {
	return &Catalog{}
}

func (c *Catalog) insert(table string, query string, args ...any) {
	if !c.IsConnected() {
		return
	}
	const nowait = false
	if err := c.conn.AsyncInsert(context.Background(), query, nowait, args...); err != nil {
		beespec.ProblemLogger.Printf("Error raised on AsyncInsert into %s: %v", table, err)
		c.fail(err)
	}
}

func (c *Catalog) logActivity() {
	a := c.activity
	c.insert("activity", `INSERT INTO activity VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Program, a.Hostname, a.Version, a.GoVersion, a.CPUs,
		a.Start.Format(timeFormat), a.End.Format(timeFormat))
}

func (c *Catalog) handleConnection(abort <-chan struct{}) {
	defer c.Done()
	for {
		select {
		case <-abort:
			// Drain what was recorded before the abort.
			for {
				select {
				case m := <-c.messages:
					c.handle(m)
				default:
					c.disconnect()
					return
				}
			}
		case m := <-c.messages:
			c.handle(m)
		}
	}
}

func (c *Catalog) handle(m any) {
	switch msg := m.(type) {
	case *RunMessage:
		c.insert("recordings", `INSERT INTO recordings VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, c.activity.ID, msg.Prefix, msg.ListenAddr, msg.QuotaPolicy, msg.Quota, msg.MaxFiles,
			msg.Threshold, msg.EventLimit, msg.MaskedBins, msg.BoardInfo,
			msg.Start.Format(timeFormat), msg.End.Format(timeFormat))
	case *FileMessage:
		c.insert("files", `INSERT INTO files VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.RunID, msg.Filename, msg.Number, msg.Packets, msg.Spectra, msg.Size, msg.SHA256,
			msg.Start.Format(timeFormat), msg.End.Format(timeFormat))
	}
}

func (c *Catalog) disconnect() {
	if c.IsConnected() {
		c.activity.End = time.Now()
		c.logActivity()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Catalog) send(m any) {
	if !c.IsConnected() {
		return
	}
	select {
	case c.messages <- m:
	default:
		beespec.ProblemLogger.Printf("Run catalog queue full, dropping %T", m)
	}
}

// RecordRun stores the start of a recording.
func (c *Catalog) RecordRun(msg *RunMessage) {
	if msg == nil {
		return
	}
	c.send(msg)
}

// FinishRun stores the end of a recording.
func (c *Catalog) FinishRun(msg *RunMessage) {
	if msg == nil {
		return
	}
	m := *msg
	m.End = time.Now()
	c.send(&m)
}

// RecordFile stores a closed output file of recording runID.
func (c *Catalog) RecordFile(runID string, fs beespec.FileSummary) {
	c.send(&FileMessage{
		RunID:    runID,
		Filename: fs.Path,
		Number:   fs.Number,
		Packets:  fs.Packets,
		Spectra:  fs.Spectra,
		Size:     fs.Bytes,
		SHA256:   fs.SHA256,
		Start:    fs.Start,
		End:      fs.End,
	})
}
