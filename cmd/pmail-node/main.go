// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"golang.org/x/crypto/ssh/terminal"

	"github.com/droundy/pmail/identity"
	"github.com/droundy/pmail/log"
	"github.com/droundy/pmail/mailbox"
	"github.com/droundy/pmail/node"
	"github.com/droundy/pmail/pconfig"
)

var (
	configPath = flag.String("config", "", "path to the node's TOML config file (defaults built in if omitted)")
	keyPath    = flag.String("key", "", "path to the node's identity key file (default: "+"~/routing-<hostname>.key)")
	encrypted  = flag.Bool("encrypted-key", false, "prompt for a passphrase protecting the identity key file")
)

func main() {
	flag.Parse()

	cfg := pconfig.Default()
	if *configPath != "" {
		var err error
		cfg, err = pconfig.ReadFile(*configPath)
		if err != nil {
			log.Fatalf("pmail-node: %s", err)
		}
	}

	if out, err := log.NewProductionOutput(cfg.LogsDir); err != nil {
		log.Fatalf("pmail-node: %s", err)
	} else {
		log.StdLogger.EntryHandler = out
	}

	path := *keyPath
	if path == "" {
		path = identity.DefaultPath()
	}
	var passphrase []byte
	if *encrypted {
		passphrase = readPassphrase()
	}
	self, err := identity.ReadOrGenerate(path, passphrase)
	if err != nil {
		log.Fatalf("pmail-node: loading identity key: %s", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		log.Fatalf("pmail-node: creating data directory: %s", err)
	}

	n, err := node.Open(cfg, self)
	if err != nil {
		log.Fatalf("pmail-node: %s", err)
	}
	log.WithFields(log.Fields{
		"public_key": fmt.Sprintf("%x", self.Public[:8]),
		"listen":     n.LocalAddr(),
		"data_dir":   cfg.DataDir,
	}).Info("pmail-node: starting")

	sink := mailbox.NewSink()
	go sink.Listen(n.Surface)

	go n.Run()
	retransmitDone := make(chan struct{})
	go retransmitLoop(n, cfg.TickPeriod, retransmitDone)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig

	log.Info("pmail-node: shutting down")
	close(retransmitDone)
	if err := n.Close(); err != nil {
		log.Errorf("pmail-node: shutdown: %s", err)
	}
}

// retransmitLoop periodically gives one unacknowledged outbound message
// another chance at delivery, on a timer of its own rather than on the
// node's pickup polls. It runs at ten times the node's tick period, since retrying on
// every single tick would do little beyond spamming the same rendezvous
// peer before it has had a chance to answer.
func retransmitLoop(n *node.Node, tickPeriod time.Duration, done <-chan struct{}) {
	t := time.NewTicker(10 * tickPeriod)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			n.RetransmitPending()
		case <-done:
			return
		}
	}
}

func readPassphrase() []byte {
	fmt.Fprintf(os.Stderr, "Enter passphrase: ")
	pw, err := terminal.ReadPassword(0)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatalf("pmail-node: reading passphrase: %s", err)
	}
	return pw
}
