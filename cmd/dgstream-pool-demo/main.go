// Command dgstream-pool-demo is a minimal wiring example: it builds a
// PoolConfig and AudioStreamOptions from flags, opens a Pool against a
// Deepgram-compatible WebSocket endpoint, acquires one session, streams a
// single chunk of silence, and releases it. It is not part of the library's
// public surface — env/flag parsing and audio capture are explicitly out of
// scope for the core (see SPEC_FULL.md §1.3), so that wiring lives here
// instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lookatitude/dgstream"
	"github.com/lookatitude/dgstream/internal/logging"
	"github.com/lookatitude/dgstream/metrics"
	"github.com/lookatitude/dgstream/pool"
)

func main() {
	url := flag.String("url", "wss://api.deepgram.com/v1/listen", "Deepgram WebSocket endpoint")
	apiKey := flag.String("api-key", os.Getenv("DEEPGRAM_API_KEY"), "Deepgram API key")
	initialSize := flag.Int("initial-size", 2, "number of sessions to pre-warm")
	maxSize := flag.Int("max-size", 5, "maximum concurrent live sessions")
	acquireTimeout := flag.Duration("acquire-timeout", 5*time.Second, "how long Acquire waits before giving up")
	model := flag.String("model", "nova-2", "Deepgram model name")
	flag.Parse()

	if *apiKey == "" {
		log.Fatal("dgstream-pool-demo: -api-key (or DEEPGRAM_API_KEY) is required")
	}

	opts := dgstream.NewAudioStreamOptions()
	opts, err := opts.SetEncoding("linear16")
	exitOn(err)
	opts, err = opts.SetSampleRate(16000)
	exitOn(err)
	opts, err = opts.SetChannels(1)
	exitOn(err)
	opts, err = opts.SetModel(*model)
	exitOn(err)
	opts, err = opts.SetInterimResults(true)
	exitOn(err)

	cfg := dgstream.NewPoolConfig()
	cfg, err = cfg.SetInitialSize(*initialSize)
	exitOn(err)
	cfg, err = cfg.SetMaxSize(*maxSize)
	exitOn(err)
	cfg, err = cfg.SetAcquireTimeout(*acquireTimeout)
	exitOn(err)

	logger := logging.New(logging.WithLogLevel("info"))
	otelMirror := metrics.NewOTelMirror()

	p, err := pool.New(*url, *apiKey, cfg, opts, pool.WithLogger(logger), pool.WithOTelMirror(otelMirror))
	exitOn(err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *acquireTimeout+5*time.Second)
	defer cancel()

	ps, err := p.Acquire(ctx)
	exitOn(err)
	defer func() {
		if err := p.Release(ps); err != nil {
			log.Printf("dgstream-pool-demo: release failed: %v", err)
		}
	}()

	silence := make([]byte, 3200) // 100ms of 16kHz/16-bit mono silence
	if err := ps.SendAudio(ctx, silence); err != nil {
		exitOn(err)
	}

	fmt.Printf("acquired session, idle=%d active=%d, utilization=%.1f%%\n",
		p.IdleCount(), p.ActiveCount(), p.Metrics().PoolUtilization())
}

func exitOn(err error) {
	if err != nil {
		log.Fatalf("dgstream-pool-demo: %v", err)
	}
}
