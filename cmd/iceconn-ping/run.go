package main

import (
	"net"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/libp2p/go-reuseport"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gortc/iceconn"
	"github.com/gortc/iceconn/internal/reload"
)

// udpPort adapts a net.PacketConn to iceconn.PortSender, the role
// ListenUDPAndServe's server.Options.Conn plays for gortcd's Server: the
// one place this demo's Connection reaches out to the network.
type udpPort struct {
	conn net.PacketConn
	log  *zap.Logger
}

func (p *udpPort) SendTo(data []byte, addr iceconn.Addr) (int, error) {
	return p.conn.WriteTo(data, addr.UDPAddr())
}

func (p *udpPort) DestroyConnection(c *iceconn.Connection) {
	p.log.Info("connection destroyed", zap.Uint32("id", c.ID()))
}

// inboundPacket is a raw read handed from readLoop to dispatchLoop across
// the one channel that crosses the goroutine boundary into Connection's
// network sequence.
type inboundPacket struct {
	now  time.Time
	data []byte
}

// readLoop only reads off the socket and forwards each packet to
// dispatchLoop; it never touches conn itself, since conn is not safe for
// concurrent use and dispatchLoop is its sole caller. This mirrors
// eduP2P-common's InConn/OutConn split between a raw socket-reading
// goroutine and the actor's own Run() select loop, which is the only
// goroutine that ever calls the actor's methods.
func readLoop(pc net.PacketConn, inbox chan<- inboundPacket, l *zap.Logger) {
	defer close(inbox)
	for {
		buf := make([]byte, 1500)
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			l.Info("read loop stopped", zap.Error(err))
			return
		}
		inbox <- inboundPacket{now: time.Now(), data: buf[:n]}
	}
}

// dispatchLoop is the single goroutine that owns conn for the lifetime of
// this demo side, the same single-select-loop shape a_conn.go's Run()
// uses over its inbox channel and activity timer: every case below is the
// only place conn.OnReadPacket/UpdateState/Ping are ever called from, so
// no two of them can run concurrently. It paces outbound connectivity
// checks with a rate.Limiter (DOMAIN STACK: golang.org/x/time/rate)
// instead of a bare time.Ticker, so the interval is enforced even across
// a burst of UpdateState-driven retries, and periodically calls
// UpdateState so write/receive timeouts are re-evaluated even while no
// response arrives to trigger them.
func dispatchLoop(stop <-chan struct{}, inbox <-chan inboundPacket, configChanged <-chan struct{}, u *Updater, conn *iceconn.Connection, interval time.Duration, l *zap.Logger) {
	lim := rate.NewLimiter(rate.Every(interval), 1)
	tick := time.NewTicker(interval / 4)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case pkt, ok := <-inbox:
			if !ok {
				return
			}
			if readErr := conn.OnReadPacket(pkt.now, pkt.data); readErr != nil {
				l.Warn("failed to handle inbound packet", zap.Error(readErr))
			}
		case <-configChanged:
			u.ApplyTo(conn)
		case now := <-tick.C:
			conn.UpdateState(now)
			if !lim.AllowN(now, 1) {
				continue
			}
			if err := conn.Ping(now); err != nil {
				l.Warn("ping failed", zap.Error(err))
			}
		}
	}
}

// runPing wires one side of the demo: binds a reuseport UDP socket,
// builds a single Connection against cfg.Remote, and runs its read and
// ping loops until stop is closed. It mirrors internal/cli.ListenUDPAndServe's
// listen-then-serve shape, but drives an iceconn.Connection instead of a
// gortcd server.Server.
func runPing(v *viper.Viper, l *zap.Logger, stop <-chan struct{}) error {
	var cfg PingConfig
	if err := decode(v, &cfg); err != nil {
		return err
	}

	pc, err := listen(cfg.Listen)
	if err != nil {
		return err
	}
	defer pc.Close()

	remoteAddr, err := net.ResolveUDPAddr("udp", cfg.Remote)
	if err != nil {
		return err
	}

	local := iceconn.Candidate{
		Addr:     iceconn.Addr{IP: pc.LocalAddr().(*net.UDPAddr).IP, Port: pc.LocalAddr().(*net.UDPAddr).Port, Proto: iceconn.ProtoUDP},
		Type:     iceconn.CandidateHost,
		Priority: iceconn.PriorityOf(iceconn.TypePreference(iceconn.CandidateHost), 65535, 1),
		Ufrag:    cfg.LocalUfrag,
		Password: cfg.LocalPassword,
	}
	remote := iceconn.Candidate{
		Addr:     iceconn.Addr{IP: remoteAddr.IP, Port: remoteAddr.Port, Proto: iceconn.ProtoUDP},
		Type:     iceconn.CandidateHost,
		Priority: iceconn.PriorityOf(iceconn.TypePreference(iceconn.CandidateHost), 65535, 1),
		Ufrag:    cfg.RemoteUfrag,
		Password: cfg.RemotePassword,
	}

	port := &udpPort{conn: pc, log: l}
	conn := iceconn.NewConnection(iceconn.ConnectionOptions{
		ID:          1,
		Local:       local,
		Remote:      remote,
		Controlling: cfg.Controlling,
		Port:        port,
		Log:         l.Named("connection"),
		FieldTrials: cfg.FieldTrials,
		Timeouts:    cfg.Timeouts,
	})

	conn.SubscribeStateChange(func(c *iceconn.Connection) {
		l.Info("state changed",
			zap.Stringer("write_state", c.WriteState()),
			zap.Bool("receiving", c.Receiving()),
		)
	})
	conn.SubscribeNominated(func(c *iceconn.Connection) {
		l.Info("nominated", zap.Uint32("id", c.ID()))
	})
	conn.SubscribeDestroyed(func(c *iceconn.Connection) {
		l.Info("destroyed", zap.Uint32("id", c.ID()))
	})

	u := NewUpdater(cfg)
	// configChanged only ever carries a wake-up signal, never the config
	// itself: the Connection methods a changed config needs to reach
	// (SetIceFieldTrials/SetReceivingTimeout) are only safe to call from
	// dispatchLoop, so reloadFromViper hands off the actual application
	// by sending here instead of touching conn directly.
	configChanged := make(chan struct{}, 1)
	reloadFromViper := func() {
		var next PingConfig
		if decodeErr := decode(v, &next); decodeErr != nil {
			l.Error("failed to decode config", zap.Error(decodeErr))
			return
		}
		u.Set(next)
		select {
		case configChanged <- struct{}{}:
		default:
		}
	}
	v.OnConfigChange(func(fsnotify.Event) {
		l.Info("config file changed on disk")
		reloadFromViper()
	})
	v.WatchConfig()

	n := reload.NewNotifier(l.Named("reload"))
	go func() {
		for range n.C {
			l.Info("reloading config")
			if readErr := v.ReadInConfig(); readErr != nil {
				l.Error("failed to read config", zap.Error(readErr))
				continue
			}
			reloadFromViper()
		}
	}()

	interval, err := time.ParseDuration(cfg.PingInterval)
	if err != nil || interval <= 0 {
		interval = time.Second
	}

	inbox := make(chan inboundPacket, 64)
	go readLoop(pc, inbox, l)
	dispatchLoop(stop, inbox, configChanged, u, conn, interval, l)
	conn.Shutdown()
	return nil
}

// listen binds laddr with SO_REUSEPORT when available, falling back to a
// plain listen, the same fallback ListenUDPAndServe performs for gortcd.
func listen(laddr string) (net.PacketConn, error) {
	if reuseport.Available() {
		if pc, err := reuseport.ListenPacket("udp", laddr); err == nil {
			return pc, nil
		}
	}
	return net.ListenPacket("udp", laddr)
}
