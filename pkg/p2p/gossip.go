package p2p

import (
	"context"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/strategy"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/storage"
)

const (
	topicTrades     = "carbon-trades"
	topicStrategies = "carbon-strategies"
)

// Handlers receive events gossiped by other venue nodes. Nil handlers are
// skipped. Handlers run on the subscription goroutine; hand off anything slow.
type Handlers struct {
	OnTrade    func(ctx context.Context, rec *storage.TradeRecord)
	OnStrategy func(ctx context.Context, event string, st *strategy.Strategy)
}

// Gossip replicates executed trades and strategy lifecycle events across
// venue nodes over gossipsub. Nodes are peers, not validators: every node
// executes its own trades and learns about remote ones through these topics.
type Gossip struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	tTrades, tStrategies     *pubsub.Topic
	subTrades, subStrategies *pubsub.Subscription

	muH      sync.RWMutex
	handlers Handlers
}

type GossipConfig struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

func NewGossip(ctx context.Context, cfg GossipConfig) (*Gossip, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	g := &Gossip{h: h, ps: ps, log: cfg.Logger}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if err := g.joinTopics(); err != nil {
		h.Close()
		return nil, err
	}

	go g.handleTrades(ctx)
	go g.handleStrategies(ctx)

	if cfg.Logger != nil {
		cfg.Logger.Infow("gossip_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	}
	return g, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (g *Gossip) joinTopics() error {
	var err error
	if g.tTrades, err = g.ps.Join(topicTrades); err != nil {
		return err
	}
	if g.tStrategies, err = g.ps.Join(topicStrategies); err != nil {
		return err
	}

	if g.subTrades, err = g.tTrades.Subscribe(); err != nil {
		return err
	}
	if g.subStrategies, err = g.tStrategies.Subscribe(); err != nil {
		return err
	}
	return nil
}

func (g *Gossip) SetHandlers(h Handlers) { g.muH.Lock(); g.handlers = h; g.muH.Unlock() }

func (g *Gossip) Host() host.Host { return g.h }

func (g *Gossip) Close() error {
	g.subTrades.Cancel()
	g.subStrategies.Cancel()
	return g.h.Close()
}

// PublishTrade broadcasts an executed trade to the mesh.
func (g *Gossip) PublishTrade(ctx context.Context, rec *storage.TradeRecord) error {
	rb, err := gobEncode(rec)
	if err != nil {
		return err
	}
	data, err := gobEncode(TradeWire{Record: rb})
	if err != nil {
		return err
	}
	return g.tTrades.Publish(ctx, data)
}

// PublishStrategy broadcasts a strategy lifecycle event to the mesh.
func (g *Gossip) PublishStrategy(ctx context.Context, event string, st *strategy.Strategy) error {
	sb, err := gobEncode(st)
	if err != nil {
		return err
	}
	data, err := gobEncode(StrategyWire{Event: event, Strategy: sb})
	if err != nil {
		return err
	}
	return g.tStrategies.Publish(ctx, data)
}

// inbound

func (g *Gossip) handleTrades(ctx context.Context) {
	for {
		msg, err := g.subTrades.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == g.h.ID() {
			continue // own publish echoed back
		}
		var w TradeWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}
		var rec storage.TradeRecord
		if err := gobDecode(w.Record, &rec); err != nil {
			continue
		}

		g.muH.RLock()
		h := g.handlers
		g.muH.RUnlock()
		if h.OnTrade != nil {
			h.OnTrade(ctx, &rec)
		}
	}
}

func (g *Gossip) handleStrategies(ctx context.Context) {
	for {
		msg, err := g.subStrategies.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == g.h.ID() {
			continue
		}
		var w StrategyWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}
		var st strategy.Strategy
		if err := gobDecode(w.Strategy, &st); err != nil {
			continue
		}

		g.muH.RLock()
		h := g.handlers
		g.muH.RUnlock()
		if h.OnStrategy != nil {
			h.OnStrategy(ctx, w.Event, &st)
		}
	}
}
