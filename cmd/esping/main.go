package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:          "esping",
		Short:        "Probe a backend node over the estransport connection pool",
		SilenceUsage: true,
		RunE:         runRequest,
	}

	verbose bool
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose mode")

	rootCmd.Flags().StringVarP(&nodeURL, "node", "n", "http://localhost:9200", "node url to probe")
	rootCmd.Flags().StringVarP(&method, "method", "X", "GET", "request method")
	rootCmd.Flags().StringVarP(&path, "path", "p", "/", "request path")
	rootCmd.Flags().StringVarP(&body, "body", "d", "", "request body")
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header, key:value")
	rootCmd.Flags().IntVarP(&count, "count", "c", 1, "number of requests to perform")
	rootCmd.Flags().IntVar(&parallel, "parallel", 1, "requests in flight at once")
	rootCmd.Flags().IntVar(&maxSockets, "max-sockets", 0, "socket limit, 0 means unbounded")
	rootCmd.Flags().BoolVar(&noKeepAlive, "no-keep-alive", false, "open a fresh socket per request")
	rootCmd.Flags().BoolVarP(&insecureSkipVerify, "insecure", "k", false, "skip TLS certificate verification")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out: os.Stderr,
		FormatTimestamp: func(i interface{}) string {
			return ""
		},
	})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
