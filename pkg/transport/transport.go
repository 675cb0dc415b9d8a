package transport

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/agentnode/pkg/codec"
	"github.com/cuemby/agentnode/pkg/crypto"
	"github.com/cuemby/agentnode/pkg/log"
	"github.com/cuemby/agentnode/pkg/metrics"
	"github.com/cuemby/agentnode/pkg/storage"
	"github.com/cuemby/agentnode/pkg/types"
	"github.com/google/uuid"
)

const (
	sendQueueDepth  = 256
	dialTimeout     = 10 * time.Second
	relayTimeout    = 30 * time.Second
	retryBaseDelay  = time.Second
	retryCapDelay   = 10 * time.Minute
	retryGiveupTime = 24 * time.Hour
)

// Resolver is the external collaborator that maps a peer name to its
// routing information and public signing key.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*types.ResolvedIdentity, error)
}

// Inbox receives envelopes delivered to this node, either directly or
// relayed. Implementations dedupe by hash before acting on a message.
type Inbox interface {
	Deliver(env *types.Envelope) error
}

// Config configures a Transport.
type Config struct {
	LocalName     string
	SigningKey    ed25519.PrivateKey
	RelayAddr     string // address of a fallback relay peer, optional
	MaxQueueDepth int
}

// Transport is the node's P2P messaging endpoint: it accepts
// authenticated inbound connections, relays outbound envelopes to
// directly-reachable peers, and falls back to a relay otherwise.
type Transport struct {
	cfg      Config
	resolver Resolver
	store    storage.Store
	inbox    Inbox

	listener net.Listener

	mu    sync.Mutex
	peers map[string]*peerQueue

	relayRegMu sync.Mutex
	relayInbox map[string][]*types.Envelope // envelopes held for peers not yet connected

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Transport. Call Listen to start accepting inbound
// connections and StartRetryLoop to start draining the retry queue.
func New(cfg Config, resolver Resolver, store storage.Store, inbox Inbox) *Transport {
	return &Transport{
		cfg:        cfg,
		resolver:   resolver,
		store:      store,
		inbox:      inbox,
		peers:      make(map[string]*peerQueue),
		relayInbox: make(map[string][]*types.Envelope),
		stopCh:     make(chan struct{}),
	}
}

// Listen starts accepting inbound connections on addr.
func (t *Transport) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return newError(addr, ErrDial, err)
	}
	t.listener = ln
	go t.acceptLoop()
	return nil
}

// Close stops accepting new connections and tears down peer workers.
func (t *Transport) Close() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

func (t *Transport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.stopCh:
				return
			default:
				transportLogger := log.WithComponent("transport")
				transportLogger.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		go t.handleInbound(conn)
	}
}

func (t *Transport) handleInbound(conn net.Conn) {
	defer conn.Close()

	var verifyErr error
	peerName, err := listenerHandshake(conn, t.cfg.SigningKey, func(identity string, nonce, sig []byte) error {
		ri, err := t.resolver.Resolve(context.Background(), identity)
		if err != nil {
			verifyErr = err
			return err
		}
		if !ed25519.Verify(ri.SigningPublicKey, nonce, sig) {
			verifyErr = fmt.Errorf("signature verification failed for %q", identity)
			return verifyErr
		}
		return nil
	})
	if err != nil {
		transportLogger := log.WithComponent("transport")
		transportLogger.Warn().Err(err).Msg("inbound handshake failed")
		return
	}

	t.registerConnected(peerName, conn)
	defer t.unregisterConnected(peerName)

	for {
		env, err := codec.DecodeFrame(conn)
		if err != nil {
			return
		}
		t.deliver(env)
	}
}

// wireHash dedupes on the exact on-wire envelope rather than
// codec.HashForPagination: an encrypted body can't be hashed by its
// plaintext content without decrypting it first, which is a job for
// whoever holds the recipient's keys, not the transport. Because a
// retried envelope is the original sealed bytes, not a re-sealed
// copy, hashing the canonical envelope is stable across redeliveries.
func wireHash(env *types.Envelope) (string, error) {
	b, err := codec.CanonicalBytes(env)
	if err != nil {
		return "", err
	}
	sum := crypto.Hash(b)
	return hex.EncodeToString(sum[:]), nil
}

func (t *Transport) deliver(env *types.Envelope) {
	recipient := env.ExternalMetadata.Recipient
	if recipient != t.cfg.LocalName {
		t.holdForRelay(recipient, env)
		return
	}

	hash, err := wireHash(env)
	if err != nil {
		transportLogger := log.WithComponent("transport")
		transportLogger.Warn().Err(err).Msg("failed to hash inbound envelope")
		hash = uuid.NewString()
	}

	seen, err := t.store.HasInboxMessage(recipient, hash)
	if err == nil && seen {
		return
	}
	if err := t.store.PutInboxMessage(recipient, hash, env); err != nil {
		transportLogger := log.WithComponent("transport")
		transportLogger.Warn().Err(err).Msg("failed to persist inbound envelope")
	}
	if t.inbox != nil {
		if err := t.inbox.Deliver(env); err != nil {
			transportLogger := log.WithComponent("transport")
			transportLogger.Warn().Err(err).Msg("inbox delivery failed")
		}
	}
}

// holdForRelay stores env for a peer this node is relaying on behalf
// of, to be forwarded once that peer opens a connection (see
// registerConnected). This node acts as a relay only for envelopes
// whose recipient isn't itself.
func (t *Transport) holdForRelay(target string, env *types.Envelope) {
	t.relayRegMu.Lock()
	defer t.relayRegMu.Unlock()
	t.relayInbox[target] = append(t.relayInbox[target], env)
}

// registerConnected flushes any envelopes held for peerName in the
// relay store-and-forward buffer onto the now-open connection.
func (t *Transport) registerConnected(peerName string, conn net.Conn) {
	t.relayRegMu.Lock()
	held := t.relayInbox[peerName]
	delete(t.relayInbox, peerName)
	t.relayRegMu.Unlock()

	for _, env := range held {
		if frame, err := codec.EncodeFrame(env); err == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(relayTimeout))
			_, _ = conn.Write(frame)
		}
	}
}

func (t *Transport) unregisterConnected(string) {}

// Send enqueues env for delivery to recipient. A full per-peer queue
// returns SendBusy and the envelope is persisted to the retry queue.
func (t *Transport) Send(ctx context.Context, recipient *types.ResolvedIdentity, env *types.Envelope) error {
	q := t.peerQueueFor(recipient.Name)

	select {
	case q.ch <- outboundMsg{recipient: recipient, env: env}:
		metrics.TransportSendQueueDepth.WithLabelValues(recipient.Name).Set(float64(len(q.ch)))
		return nil
	default:
		metrics.TransportSendBusyTotal.Inc()
		t.enqueueRetry(recipient.Name, env, 0)
		return newError(recipient.Name, ErrSendBusy, nil)
	}
}

type outboundMsg struct {
	recipient *types.ResolvedIdentity
	env       *types.Envelope
}

type peerQueue struct {
	ch chan outboundMsg
}

func (t *Transport) peerQueueFor(name string) *peerQueue {
	t.mu.Lock()
	defer t.mu.Unlock()

	if q, ok := t.peers[name]; ok {
		return q
	}
	depth := t.cfg.MaxQueueDepth
	if depth == 0 {
		depth = sendQueueDepth
	}
	q := &peerQueue{ch: make(chan outboundMsg, depth)}
	t.peers[name] = q
	go t.drainPeer(name, q)
	return q
}

func (t *Transport) drainPeer(name string, q *peerQueue) {
	for {
		select {
		case msg := <-q.ch:
			metrics.TransportSendQueueDepth.WithLabelValues(name).Set(float64(len(q.ch)))
			if err := t.deliverOne(msg.recipient, msg.env); err != nil {
				log.WithPeerID(name).Warn().Err(err).Msg("direct delivery failed, scheduling retry")
				t.enqueueRetry(name, msg.env, 0)
			}
		case <-t.stopCh:
			return
		}
	}
}

func (t *Transport) deliverOne(recipient *types.ResolvedIdentity, env *types.Envelope) error {
	addr := dialAddrFor(recipient)
	if addr == "" {
		addr = t.cfg.RelayAddr
	}
	if addr == "" {
		return newError(recipient.Name, ErrDial, fmt.Errorf("no routable address and no relay configured"))
	}

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return newError(recipient.Name, ErrDial, err)
	}
	defer conn.Close()

	if err := dialerHandshake(conn, t.cfg.LocalName, t.cfg.SigningKey, recipient.SigningPublicKey); err != nil {
		return newError(recipient.Name, ErrDial, err)
	}

	frame, err := codec.EncodeFrame(env)
	if err != nil {
		return newError(recipient.Name, ErrClosed, err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(relayTimeout))
	if _, err := conn.Write(frame); err != nil {
		return newError(recipient.Name, ErrTimeout, err)
	}
	return nil
}

func dialAddrFor(ri *types.ResolvedIdentity) string {
	if ri.Routing == "relay" || len(ri.Endpoints) == 0 {
		return ""
	}
	return ri.Endpoints[0]
}

func (t *Transport) enqueueRetry(peerName string, env *types.Envelope, attempt int) {
	entry := &types.RetryQueueEntry{
		ID:         uuid.NewString(),
		TargetPeer: peerName,
		Envelope:   *env,
		Attempt:    attempt,
		DueAt:      time.Now().Add(backoffDelay(attempt)),
	}
	if err := t.store.EnqueueRetry(entry); err != nil {
		log.WithPeerID(peerName).Error().Err(err).Msg("failed to persist retry entry")
	}
}

func backoffDelay(attempt int) time.Duration {
	d := retryBaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= retryCapDelay {
			return retryCapDelay
		}
	}
	return d
}

// StartRetryLoop periodically pulls due retry entries and attempts
// redelivery, backing off exponentially on repeated failure and
// abandoning an entry once it has been in the queue for retryGiveupTime.
func (t *Transport) StartRetryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.drainRetries(ctx)
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		}
	}
}

func (t *Transport) drainRetries(ctx context.Context) {
	entries, err := t.store.ListDueRetries(time.Now())
	if err != nil {
		log.WithComponent("transport").Warn().Err(err).Msg("failed to list due retries")
		return
	}

	for _, entry := range entries {
		metrics.TransportRetriesTotal.Inc()
		ri, err := t.resolver.Resolve(ctx, entry.TargetPeer)
		if err != nil {
			t.rescheduleOrDrop(entry)
			continue
		}
		env := entry.Envelope
		if err := t.deliverOne(ri, &env); err != nil {
			t.rescheduleOrDrop(entry)
			continue
		}
		if err := t.store.DeleteRetryEntry(entry.ID); err != nil {
			log.WithPeerID(entry.TargetPeer).Warn().Err(err).Msg("failed to clear retry entry")
		}
	}
}

func (t *Transport) rescheduleOrDrop(entry *types.RetryQueueEntry) {
	next := entry.Attempt + 1
	elapsed := time.Duration(next) * retryCapDelay // upper bound; cheap worst-case estimate
	if elapsed > retryGiveupTime {
		log.WithPeerID(entry.TargetPeer).Warn().Str("retry_id", entry.ID).Msg("abandoning retry after giveup window")
		_ = t.store.DeleteRetryEntry(entry.ID)
		return
	}
	entry.Attempt = next
	entry.DueAt = time.Now().Add(backoffDelay(next))
	if err := t.store.EnqueueRetry(entry); err != nil {
		log.WithPeerID(entry.TargetPeer).Error().Err(err).Msg("failed to reschedule retry entry")
	}
}
