// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command exccidxd is the indexer daemon: it parses configuration, wires
// the block ingestion pipeline (ChainIndex/BlockQueue/PullLoader/
// BatchIterator), the durable outbox and delivery engine (EventStore/
// DeliveryLoop), and the transport fabric (HTTP/WebSocket/IPC Producers
// behind one ProducerManager), then runs until a signal requests an
// ordered shutdown: stop loaders, stop the iterator, flush the outbox
// best-effort, stop producers, close the store.
package main

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EXCCoin/exccidx/internal/aggregate"
	"github.com/EXCCoin/exccidx/internal/batchiter"
	"github.com/EXCCoin/exccidx/internal/blockqueue"
	"github.com/EXCCoin/exccidx/internal/config"
	"github.com/EXCCoin/exccidx/internal/delivery"
	"github.com/EXCCoin/exccidx/internal/eventstore"
	"github.com/EXCCoin/exccidx/internal/ingest"
	"github.com/EXCCoin/exccidx/internal/logging"
	"github.com/EXCCoin/exccidx/internal/nodeclient"
	"github.com/EXCCoin/exccidx/internal/pullloader"
	"github.com/EXCCoin/exccidx/internal/pullloader/loadercache"
	"github.com/EXCCoin/exccidx/internal/querybus"
	"github.com/EXCCoin/exccidx/internal/transport"

	"github.com/decred/slog"
)

const (
	networkAggregateID = "network"
	networkTableName   = "network"
	mempoolAggregateID = "mempool"
	mempoolTableName   = "mempool"
	maxChainSize       = 10_000
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	loggers, err := logging.New(cfg.LogFilePath(), cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("building loggers: %w", err)
	}
	defer loggers.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := buildDaemon(ctx, cfg, loggers)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go d.run(ctx)

	<-sigCh
	loggers.RPC.Infof("shutdown requested, draining...")
	d.shutdown()
	return nil
}

// daemon bundles every long-running component so shutdown can stop them
// in the prescribed order without main() knowing their internals.
type daemon struct {
	loggers *logging.Loggers

	loader   *pullloader.PullLoader
	iterator *batchiter.BatchIterator
	delivery *delivery.DeliveryLoop
	manager  *transport.ProducerManager
	store    *eventstore.Store
	cache    *loadercache.Cache

	loaderCancel   context.CancelFunc
	iteratorCancel context.CancelFunc
	deliveryCancel context.CancelFunc

	httpSrv *http.Server
	wsSrv   *http.Server
	ipcLn   net.Listener

	loaderDone   chan struct{}
	iteratorDone chan struct{}
	deliveryDone chan struct{}
}

func buildDaemon(ctx context.Context, cfg *config.Config, loggers *logging.Loggers) (*daemon, error) {
	store, err := eventstore.Open(ctx, cfg.SQLDSN, []string{networkTableName, mempoolTableName})
	if err != nil {
		return nil, fmt.Errorf("opening event store: %w", err)
	}

	cache, err := loadercache.Open(cfg.LoaderCacheDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening loader cache: %w", err)
	}

	network := aggregate.NewNetwork(networkAggregateID, maxChainSize)
	mempool := aggregate.NewMempool(mempoolAggregateID)

	queue := blockqueue.New(-1, cfg.MaxQueueBytes, math.MaxInt64)

	node := nodeclient.New(cfg.NodeRPCHost, cfg.NodeRPCUser, cfg.NodeRPCPass)

	loader := pullloader.New(pullloader.Config{
		InitialBackoff:             time.Second,
		BackoffMultiplier:          2,
		MaxBackoff:                 30 * time.Second,
		BlockTime:                  cfg.BlockTime,
		InitialMaxPreloadCount:     cfg.InitialMaxPreloadCount,
		MaxRequestBlocksBatchBytes: cfg.MaxRequestBlocksBatchBytes,
		FetchRetries:               cfg.FetchRetries,
		FetchRetryDelay:            cfg.FetchRetryDelay,
		ParallelFetchLimit:         cfg.ParallelFetchLimit,
	}, queue, node, cache, loggers.Loader)

	executor := ingest.New(network, store, queue, node, loggers.Aggregate)
	iterator := batchiter.New(batchiter.Config{
		InitialInterval:   500 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxInterval:       10 * time.Second,
		BudgetBytes:       cfg.IteratorBudgetBytes,
	}, queue, executor, loggers.Iterator)
	executor.SetAcker(iterator)

	manager := transport.NewProducerManager(loggers.Transport)

	deliveryLoop := delivery.New(delivery.Config{
		InitialInterval:   500 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxInterval:       10 * time.Second,
		BudgetBytes:       cfg.DeliveryBudgetBytes,
	}, store, manager, loggers.Delivery)

	bus := querybus.New()
	querybus.RegisterChainQueries(bus, network.Chain())
	querybus.RegisterEventQueries(bus, store, networkTableName)
	querybus.RegisterMempoolQueries(bus, mempool)
	querybus.RegisterDeliveryQueries(bus, deliveryLoop)

	transportCfg := transport.Config{
		MaxMessageBytes: cfg.MaxMessageBytes,
		AckTimeout:      cfg.AckTimeout,
		Heartbeat: transport.HeartbeatConfig{
			Interval:    cfg.HeartbeatInterval,
			Multiplier:  2,
			MaxInterval: cfg.HeartbeatInterval * 8,
			Timeout:     cfg.HeartbeatInterval * 3,
		},
	}
	consumerFactory := func(p *transport.Producer) *transport.Consumer {
		return transport.NewConsumer(p, bus, nil, loggers.Transport)
	}

	// The HTTP transport is request/response only: no persistent
	// connection, no heartbeat. It still routes through a Producer so
	// Consumer's Pong/Ack paths have a receiver, backed by an inert
	// RawTransport that is always "connected" and never actually sends
	// (HTTP replies go back through the handler's ResponseWriter, not
	// through Producer.SendMessage).
	httpProducer := transport.NewProducer("http", transportCfg, inertTransport{}, loggers.Transport)
	httpConsumer := transport.NewConsumer(httpProducer, bus, nil, loggers.Transport)
	streamHandler := transport.NewHTTPStreamHandler(manager, transportCfg, consumerFactory, loggers.Transport)
	httpRouter := transport.NewHTTPRouter(httpConsumer, streamHandler, loggers.Transport)
	httpSrv := &http.Server{Addr: cfg.HTTPListen, Handler: httpRouter}

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		p, err := transport.NewWebSocketProducer(w, r, wsProducerName(r.RemoteAddr), transportCfg, consumerFactory, loggers.Transport)
		if err != nil {
			loggers.Transport.Warnf("websocket upgrade failed: %v", err)
			return
		}
		p.StartHeartbeat(ctx)
		manager.Register(p.Name(), p)
		if _, ok := manager.GetStreaming(); !ok {
			_ = manager.SetStreamingProducer(p.Name())
		}
	})
	wsSrv := &http.Server{Addr: cfg.WSListen, Handler: wsMux}

	var ipcLn net.Listener
	if cfg.IPCSocketPath != "" {
		os.Remove(cfg.IPCSocketPath)
		ipcLn, err = net.Listen("unix", cfg.IPCSocketPath)
		if err != nil {
			store.Close()
			cache.Close()
			return nil, fmt.Errorf("listening on ipc socket: %w", err)
		}
		go acceptIPC(ctx, ipcLn, transportCfg, consumerFactory, manager, loggers.Transport)
	}

	return &daemon{
		loggers:  loggers,
		loader:   loader,
		iterator: iterator,
		delivery: deliveryLoop,
		manager:  manager,
		store:    store,
		cache:    cache,
		httpSrv:  httpSrv,
		wsSrv:    wsSrv,
		ipcLn:    ipcLn,
	}, nil
}

func wsProducerName(remoteAddr string) string {
	return "ws:" + remoteAddr
}

// inertTransport backs the HTTP transport's Producer: it reports
// always-connected and discards any Send, since HTTP envelopes go back
// through the handler's ResponseWriter rather than a held connection.
type inertTransport struct{}

func (inertTransport) Send(ctx context.Context, frame []byte) error { return nil }
func (inertTransport) Connected() bool                             { return true }
func (inertTransport) Close() error                                { return nil }

func acceptIPC(ctx context.Context, ln net.Listener, cfg transport.Config, consumerFactory func(*transport.Producer) *transport.Consumer, manager *transport.ProducerManager, log slog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		name := "ipc:" + conn.RemoteAddr().String()
		p := transport.NewIPCProducer(conn, name, cfg, consumerFactory, log)
		p.StartHeartbeat(ctx)
		manager.Register(name, p)
		if _, ok := manager.GetStreaming(); !ok {
			_ = manager.SetStreamingProducer(name)
		}
	}
}

func (d *daemon) run(ctx context.Context) {
	var loaderCtx, iteratorCtx, deliveryCtx context.Context
	loaderCtx, d.loaderCancel = context.WithCancel(ctx)
	iteratorCtx, d.iteratorCancel = context.WithCancel(ctx)
	deliveryCtx, d.deliveryCancel = context.WithCancel(ctx)

	d.loaderDone = make(chan struct{})
	d.iteratorDone = make(chan struct{})
	d.deliveryDone = make(chan struct{})

	go func() { defer close(d.loaderDone); d.loader.Run(loaderCtx) }()
	go func() { defer close(d.iteratorDone); d.iterator.Run(iteratorCtx) }()
	go func() { defer close(d.deliveryDone); d.delivery.Run(deliveryCtx) }()

	go func() {
		if err := d.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.loggers.RPC.Errorf("http server: %v", err)
		}
	}()
	go func() {
		if err := d.wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.loggers.Transport.Errorf("websocket server: %v", err)
		}
	}()
}

// shutdown stops every component in order: stop loaders, stop the
// iterator, flush the outbox best-effort, stop producers, close the
// store.
func (d *daemon) shutdown() {
	d.loaderCancel()
	<-d.loaderDone

	d.iteratorCancel()
	<-d.iteratorDone

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	for i := 0; i < 3; i++ {
		if !d.delivery.Tick(flushCtx) {
			break
		}
	}
	cancel()
	d.deliveryCancel()
	<-d.deliveryDone

	shutdownCtx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	d.httpSrv.Shutdown(shutdownCtx)
	d.wsSrv.Shutdown(shutdownCtx)
	scancel()
	if d.ipcLn != nil {
		d.ipcLn.Close()
	}

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.loggers.Store.Warnf("closing store: %v", err)
		}
	}
	if d.cache != nil {
		if err := d.cache.Close(); err != nil {
			d.loggers.Loader.Warnf("closing loader cache: %v", err)
		}
	}
}
