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

// Command dashel-udpping is a one-shot UDP ping/pong example, a port of
// the library's original udp.cpp example onto the PacketStream API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/aseba-community/dashel-go"
)

const (
	serverPort = 8765
	clientPort = 8766
)

type pingServer struct {
	dashel.NopHandler
}

func (pingServer) IncomingData(s dashel.Stream) {
	ps, ok := s.(dashel.PacketStream)
	if !ok {
		return
	}
	var source dashel.IPv4Address
	if err := ps.Receive(&source); err != nil {
		fmt.Fprintf(os.Stderr, "receive failed: %s\n", err)
		return
	}
	fmt.Printf("ping from %s:%d: ", source.Host, source.Port)
	var c [1]byte
	for {
		if err := ps.Read(c[:]); err != nil {
			break
		}
		if c[0] == 0 {
			break
		}
		fmt.Printf("%c", c[0])
	}
	fmt.Println()
}

func runServer() error {
	h, err := dashel.NewHub(pingServer{})
	if err != nil {
		return err
	}
	if _, err := h.Connect(fmt.Sprintf("udp:port=%d", serverPort)); err != nil {
		return err
	}
	return h.Run(context.Background())
}

func runClient(remoteHost, msg string) error {
	h, err := dashel.NewHub(dashel.NopHandler{})
	if err != nil {
		return err
	}
	s, err := h.Connect(fmt.Sprintf("udp:port=%d", clientPort))
	if err != nil {
		return err
	}
	ps, ok := s.(dashel.PacketStream)
	if !ok {
		return fmt.Errorf("udp stream does not implement PacketStream")
	}
	if err := ps.Write([]byte(msg)); err != nil {
		return err
	}
	if err := ps.Write([]byte{0}); err != nil {
		return err
	}
	dest := dashel.NewIPv4Address(remoteHost, serverPort)
	return ps.Send(dest)
}

func main() {
	app := &cli.App{
		Name:  "dashel-udpping",
		Usage: "one-shot udp ping/pong example over dashel streams",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the ping server",
				Action: func(c *cli.Context) error {
					return runServer()
				},
			},
			{
				Name:      "ping",
				Usage:     "send a single ping datagram",
				ArgsUsage: "<host> [message]",
				Action: func(c *cli.Context) error {
					if c.Args().Len() < 1 {
						return fmt.Errorf("usage: dashel-udpping ping <host> [message]")
					}
					msg := "default message, the other side does lack creativity"
					if c.Args().Len() > 1 {
						msg = c.Args().Get(1)
					}
					return runClient(c.Args().Get(0), msg)
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "dashel-udpping: %s\n", err)
		os.Exit(1)
	}
}
