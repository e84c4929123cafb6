/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nabbar/chatd/appconfig"
	"github.com/nabbar/chatd/logging"
	"github.com/nabbar/chatd/server"
	"github.com/nabbar/chatd/store"
	"github.com/nabbar/chatd/tlsconn"
)

func main() {
	cmd := &cobra.Command{
		Use:           "chatd-server",
		Short:         "Run the chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	signal.Ignore(syscall.SIGPIPE)

	log := logging.New(nil)

	root, err := appconfig.ResolveProjectRoot()
	if err != nil {
		return err
	}
	cfg, err := appconfig.LoadServerConfig(root)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DSN())
	if err != nil {
		return err
	}

	tlsCtx, err := tlsconn.NewServerContext(tlsconn.ServerOptions{
		CertPath: cfg.TLSCert,
		KeyPath:  cfg.TLSKey,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(cfg.ListenPort, st, tlsCtx, log)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	log.Entry().WithField(logging.FieldFD, cfg.ListenPort).Info("server starting")
	return srv.Run(ctx)
}

// signalContext returns a context canceled the first time SIGINT or
// SIGTERM is received, wrapping parent so a test-supplied context still
// cancels the server too.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
