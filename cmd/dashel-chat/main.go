/*
   Copyright The Dashel Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Command dashel-chat is a line-broadcast chat server and client, a direct
// port of the library's original chat example onto the Hub/Handler API.
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/aseba-community/dashel-go"
)

func readLine(s dashel.Stream) (string, error) {
	var line bytes.Buffer
	var c [1]byte
	for {
		if err := s.Read(c[:]); err != nil {
			return "", err
		}
		if c[0] == '\n' || c[0] == '\r' {
			return line.String(), nil
		}
		line.WriteByte(c[0])
	}
}

func sendString(s dashel.Stream, line string) error {
	if err := s.Write([]byte(line)); err != nil {
		return err
	}
	return s.Flush()
}

type chatServer struct {
	dashel.NopHandler
	hub   *dashel.Hub
	nicks map[dashel.Stream]string
}

func (cs *chatServer) ConnectionCreated(s dashel.Stream) {
	if s.ProtocolName() == "tcpin" {
		return
	}
	fmt.Printf("+ incoming connection from %s\n", s.TargetName())
	nick, err := readLine(s)
	if err != nil {
		return
	}
	cs.nicks[s] = nick
	fmt.Printf("+ user %s is connected\n", nick)
}

func (cs *chatServer) IncomingData(s dashel.Stream) {
	line, err := readLine(s)
	if err != nil {
		return
	}
	msg := fmt.Sprintf("%s: %s\n", cs.nicks[s], line)
	fmt.Printf("* message: %s", msg)
	for _, peer := range cs.hub.DataStreams() {
		_ = sendString(peer, msg)
	}
}

func (cs *chatServer) ConnectionClosed(s dashel.Stream, abnormal bool) {
	nick := cs.nicks[s]
	delete(cs.nicks, s)
	fmt.Printf("- user %s disconnected", nick)
	if abnormal {
		fmt.Printf(" (%s)", s.FailReason())
	}
	fmt.Println()
}

func runServer(listenTarget, logLevel string) error {
	if logLevel != "" {
		if err := log.SetLevel(logLevel); err != nil {
			return err
		}
	}
	// dashel-chat logs as JSON on stderr rather than through the package
	// default text logger, so it needs its own logrus.Logger rather than
	// log.L's shared one.
	base := logrus.New()
	// Carry over the level log.SetLevel applied to the shared logger, so
	// the configured log_level also governs the Hub's logging.
	base.SetLevel(log.L.Logger.GetLevel())
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetOutput(os.Stderr)
	entry := logrus.NewEntry(base).WithField("component", "dashel-chat")

	cs := &chatServer{nicks: map[dashel.Stream]string{}}
	h, err := dashel.NewHub(cs, dashel.WithLogger(entry))
	if err != nil {
		return err
	}
	cs.hub = h
	if _, err := h.Connect(listenTarget); err != nil {
		return err
	}
	return h.Run(context.Background())
}

type chatClient struct {
	dashel.NopHandler
	hub    *dashel.Hub
	input  dashel.Stream
	remote dashel.Stream
}

func (cc *chatClient) ConnectionCreated(s dashel.Stream) {
	fmt.Printf("connected to %s\n", s.TargetName())
}

func (cc *chatClient) IncomingData(s dashel.Stream) {
	if s == cc.input {
		line, err := readLine(cc.input)
		if err != nil {
			return
		}
		_ = sendString(cc.remote, line+"\n")
		return
	}
	line, err := readLine(cc.remote)
	if err != nil {
		return
	}
	fmt.Println(line)
}

func (cc *chatClient) ConnectionClosed(s dashel.Stream, abnormal bool) {
	fmt.Printf("connection closed to %s", s.TargetName())
	if abnormal {
		fmt.Printf(" : %s", s.FailReason())
	}
	fmt.Println()
	cc.hub.Stop()
}

func runClient(host string, port int, nick string) error {
	cc := &chatClient{}
	h, err := dashel.NewHub(cc)
	if err != nil {
		return err
	}
	cc.hub = h
	cc.input, err = h.Connect("stdin:")
	if err != nil {
		return err
	}
	cc.remote, err = h.Connect(fmt.Sprintf("tcp:host=%s;port=%d", host, port))
	if err != nil {
		return err
	}
	if err := sendString(cc.remote, nick+"\n"); err != nil {
		return err
	}
	return h.Run(context.Background())
}

func main() {
	app := &cli.App{
		Name:  "dashel-chat",
		Usage: "line-broadcast chat server and client over dashel streams",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Value: 8765, Usage: "tcp port to listen on or connect to"},
			&cli.StringFlag{Name: "config", Usage: "path to a TOML config file overriding the listen target and log level"},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the chat server",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c.String("config"))
					if err != nil {
						return err
					}
					listenTarget := cfg.ListenTarget
					if c.IsSet("port") {
						listenTarget = fmt.Sprintf("tcpin:port=%d", c.Int("port"))
					}
					return runServer(listenTarget, cfg.LogLevel)
				},
			},
			{
				Name:      "connect",
				Usage:     "connect to a chat server",
				ArgsUsage: "<host> <nick>",
				Action: func(c *cli.Context) error {
					if c.Args().Len() < 2 {
						return fmt.Errorf("usage: dashel-chat connect <host> <nick>")
					}
					return runClient(c.Args().Get(0), c.Int("port"), c.Args().Get(1))
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "dashel-chat: %s\n", err)
		os.Exit(1)
	}
}
