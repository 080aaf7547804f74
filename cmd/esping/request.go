package main

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/peterdemartini/estransport/transport"
)

var (
	nodeURL            string
	method             string
	path               string
	body               string
	headers            []string
	count              int
	parallel           int
	maxSockets         int
	noKeepAlive        bool
	insecureSkipVerify bool
)

type outcome struct {
	err     error
	body    string
	status  int
	headers map[string]string
}

func runRequest(cmd *cobra.Command, args []string) error {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	host, err := transport.ParseHost(nodeURL)
	if err != nil {
		return err
	}
	if insecureSkipVerify {
		host.TLS = &tls.Config{InsecureSkipVerify: true}
	}

	tr, err := transport.New(host, transport.Config{
		MaxSockets:       maxSockets,
		DisableKeepAlive: noKeepAlive,
	})
	if err != nil {
		return err
	}
	defer tr.Close()

	reqHeaders, err := parseHeaders(headers)
	if err != nil {
		return err
	}
	reqPath, reqQuery, err := splitPath(path)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(parallel)

	for i := 0; i < count; i++ {
		g.Go(func() error {
			done := make(chan outcome, 1)
			cancel := tr.Perform(transport.Request{
				Method:  method,
				Path:    reqPath,
				Query:   reqQuery,
				Headers: reqHeaders,
				Body:    body,
			}, func(err error, body string, status int, headers map[string]string) {
				done <- outcome{err: err, body: body, status: status, headers: headers}
			})

			var out outcome
			select {
			case out = <-done:
			case <-ctx.Done():
				cancel()
				out = <-done
			}

			if out.err != nil {
				return fmt.Errorf("request failed: %w", out.err)
			}
			log.Info().Int("status", out.status).Msg("request done")
			fmt.Fprintln(cmd.OutOrStdout(), out.body)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	stats := tr.Stats()
	log.Info().
		Int("open", stats.Open).
		Int("idle", stats.Idle).
		Msg("pool state after run")
	return nil
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	parsed := make(map[string]string, len(raw))
	for _, h := range raw {
		key, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q, expected key:value", h)
		}
		parsed[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return parsed, nil
}

func splitPath(raw string) (string, url.Values, error) {
	p, rawQuery, _ := strings.Cut(raw, "?")
	if rawQuery == "" {
		return p, nil, nil
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", nil, fmt.Errorf("invalid query string: %w", err)
	}
	return p, query, nil
}
