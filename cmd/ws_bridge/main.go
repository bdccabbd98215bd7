// Command ws_bridge exposes a stdio program, typically "frend acp", over a
// WebSocket. Every connection gets its own subprocess; text frames from the
// client are written to its stdin one per line, and each line it prints
// comes back as a {"type": "stdout"|"stderr", "data": "..."} frame.
package main

import (
	"bufio"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m4xw311/frend/errors"
	"github.com/m4xw311/frend/logging"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

// shutdownGrace is how long a subprocess may keep running once its client
// has gone before it is killed.
var shutdownGrace = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope is one frame sent to the WebSocket client.
type envelope struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func main() {
	app := &cli.App{
		Name:      "ws_bridge",
		Usage:     "Serve a stdio program over WebSocket",
		ArgsUsage: "<command> [args...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "Listen on `ADDR`"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Diagnostic log level"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return errors.New("usage: ws_bridge [--addr ADDR] <command> [args...]")
			}
			log := logging.New(os.Stderr, c.String("log-level"))
			http.HandleFunc("/ws", handleWS(c.Args().Slice(), log))

			log.Info().Str("addr", c.String("addr")).Msg("WebSocket server running on /ws")
			return http.ListenAndServe(c.String("addr"), nil)
		},
	}
	if err := app.Run(os.Args); err != nil {
		log := logging.New(os.Stderr, "info")
		log.Fatal().Err(err).Msg("ws_bridge stopped")
	}
}

func handleWS(cmdArgs []string, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("upgrade error")
			return
		}
		defer conn.Close()

		cmd := exec.CommandContext(r.Context(), cmdArgs[0], cmdArgs[1:]...)
		if err := bridge(conn, cmd, log); err != nil {
			log.Warn().Err(err).Str("command", cmdArgs[0]).Msg("bridge closed")
		}
	}
}

// bridge runs cmd and shuttles lines between it and conn until either side
// goes away.
func bridge(conn *websocket.Conn, cmd *exec.Cmd, log zerolog.Logger) error {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrapf(err, "error getting stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrapf(err, "error getting stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrapf(err, "error getting stderr")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "error starting %s", cmd.Path)
	}

	// gorilla connections allow a single concurrent writer.
	var writeMu sync.Mutex
	var forwarders sync.WaitGroup
	forward := func(kind string, r io.Reader) {
		defer forwarders.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			writeMu.Lock()
			err := conn.WriteJSON(envelope{Type: kind, Data: scanner.Text()})
			writeMu.Unlock()
			if err != nil {
				log.Debug().Err(err).Str("stream", kind).Msg("WS write error")
				break
			}
		}
		// Keep draining so the subprocess never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
	forwarders.Add(2)
	go forward("stdout", stdout)
	go forward("stderr", stderr)

	// The pipes must be fully read before Wait, and the connection is closed
	// by the caller only after bridge returns.
	defer func() {
		_ = stdin.Close()
		drained := make(chan struct{})
		go func() {
			forwarders.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(shutdownGrace):
			log.Debug().Str("command", cmd.Path).Msg("subprocess still running after stdin closed, killing it")
			_ = cmd.Process.Kill()
			<-drained
		}
		_ = cmd.Wait()
	}()

	// WebSocket messages go to the subprocess stdin, one per line.
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrapf(err, "WS read error")
		}
		if _, err := stdin.Write(append(msg, '\n')); err != nil {
			return errors.Wrapf(err, "stdin write error")
		}
	}
}
