// Command bounce-client reads a raw bounce message on standard input,
// frames it, sends it to the ingest daemon, and waits for the
// acknowledgement. It is a synchronous single-shot pipe for the mail host's
// local delivery hook; retries belong to the caller.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/iadev09/bouncer/internal/wire"
)

// Exit codes reported to the delivery hook.
const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitTooLarge = 3
)

func main() {
	var (
		server  = flag.String("server", "127.0.0.1:2555", "ingest daemon address")
		from    = flag.String("from", "", "envelope sender of the bounced message")
		to      = flag.String("to", "", "envelope recipient of the bounce")
		timeout = flag.Duration("timeout", 10*time.Second, "connect and I/O timeout")
		maxSize = flag.Int("max-size", wire.DefaultMaxFrameSize, "maximum message size in bytes")
	)
	flag.Parse()

	if *server == "" {
		fmt.Fprintln(os.Stderr, "error: usage: --server is required")
		os.Exit(exitUsage)
	}

	os.Exit(run(*server, *from, *to, *timeout, *maxSize))
}

func run(server, from, to string, timeout time.Duration, maxSize int) int {
	// Read at most maxSize+1 so oversize input is detected, not truncated.
	body, err := io.ReadAll(io.LimitReader(os.Stdin, int64(maxSize)+1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: reading stdin: %v\n", err)
		return exitError
	}
	if len(body) > maxSize {
		fmt.Fprintf(os.Stderr, "error: message exceeds %d bytes\n", maxSize)
		return exitTooLarge
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	frame := &wire.Frame{
		Kind:   wire.KindMail,
		From:   from,
		To:     to,
		Source: hostname,
		Body:   body,
	}

	conn, err := net.DialTimeout("tcp", server, timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: connect: %v\n", err)
		return exitError
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		fmt.Fprintf(os.Stderr, "error: deadline: %v\n", err)
		return exitError
	}

	frameBudget := maxSize + wire.HeaderSize + len(from) + len(to) + len(hostname)
	if err := wire.WriteFrame(conn, frame, frameBudget); err != nil {
		switch {
		case errors.Is(err, wire.ErrFrameTooLarge):
			fmt.Fprintf(os.Stderr, "error: frame too large: %v\n", err)
			return exitTooLarge
		case errors.Is(err, wire.ErrProtocol):
			fmt.Fprintf(os.Stderr, "error: invalid metadata: %v\n", err)
			return exitUsage
		default:
			fmt.Fprintf(os.Stderr, "error: send: %v\n", err)
			return exitError
		}
	}

	if err := wire.ReadAck(conn); err != nil {
		fmt.Fprintf(os.Stderr, "error: no acknowledgement: %v\n", err)
		return exitError
	}
	return exitOK
}
