// Package blockbook is the concrete Indexer (§6) implementation: a
// WebSocket JSON-RPC client that correlates request/response pairs by a
// generated id and delivers server-push address-change notifications to a
// registered watch callback, the way the teacher's price-feeder services
// (internal/infrastructure/feeder/kraken) drive a long-lived
// gorilla/websocket connection with panic-safe reconnect.
package blockbook

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/walletsync-engine/walletsyncd/internal/domain"
	"github.com/walletsync-engine/walletsyncd/internal/ports"
	"github.com/walletsync-engine/walletsyncd/pkg/circuitbreaker"
)

// notificationID is the id Blockbook stamps on unsolicited server-push
// messages, distinguishing them from request/response correlation replies.
const notificationID = "notification"

type rpcRequest struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

type getAccountInfoParams struct {
	Descriptor string `json:"descriptor"`
	Details    string `json:"details,omitempty"`
	From       uint64 `json:"from,omitempty"`
	PageSize   int    `json:"pageSize,omitempty"`
	Page       int    `json:"page,omitempty"`
}

type wireAccountInfo struct {
	Balance            string       `json:"balance"`
	UnconfirmedBalance string       `json:"unconfirmedBalance"`
	Txs                int          `json:"txs"`
	UnconfirmedTxs     int          `json:"unconfirmedTxs"`
	Transactions       []wireTx     `json:"transactions"`
	TotalPages         int          `json:"totalPages"`
}

type wireTx struct {
	Txid        string        `json:"txid"`
	Hex         string        `json:"hex"`
	BlockHeight uint32        `json:"blockHeight"`
	BlockTime   int64         `json:"blockTime"`
	Fees        string        `json:"fees"`
	Vin         []wireTxInput `json:"vin"`
	Vout        []wireTxOut   `json:"vout"`
}

type wireTxInput struct {
	Txid         string   `json:"txid"`
	Vout         uint32   `json:"vout"`
	ScriptPubkey string   `json:"hex"`
	Addresses    []string `json:"addresses"`
	Value        string   `json:"value"`
}

type wireTxOut struct {
	N            uint32 `json:"n"`
	ScriptPubkey string `json:"hex"`
	Value        string `json:"value"`
}

type wireUtxo struct {
	Txid   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  string `json:"value"`
	Height uint32 `json:"height"`
}

type wireRawTx struct {
	Txid string `json:"txid"`
	Hex  string `json:"hex"`
}

type watchAddressesParams struct {
	Addresses []string `json:"addresses"`
}

type wireAddressNotification struct {
	Address string `json:"address"`
}

// Config parameterizes Dial.
type Config struct {
	URL           string
	RequestsPerSecond float64
	Burst         int
	DialTimeout   time.Duration
	ReconnectWait time.Duration
}

// Client is the WebSocket-backed ports.Indexer implementation.
type Client struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter

	mu       sync.Mutex
	conn     *websocket.Conn
	pending  map[string]chan rpcResponse
	watch    watchState
	closed   bool
	closedCh chan struct{}
}

type watchState struct {
	addresses []string
	callback  func(ports.AddressChange)
}

// Dial opens the WebSocket connection and starts the read/dispatch loop.
func Dial(cfg Config) (*Client, error) {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	c := &Client{
		cfg:      cfg,
		breaker:  circuitbreaker.NewCircuitBreaker(),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		pending:  make(map[string]chan rpcResponse),
		closedCh: make(chan struct{}),
	}
	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("%w: dialing blockbook at %s: %v", domain.ErrTransientNetwork, cfg.URL, err)
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) connect() error {
	dialer := websocket.DefaultDialer
	if c.cfg.DialTimeout > 0 {
		dialer.HandshakeTimeout = c.cfg.DialTimeout
	}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Close terminates the connection and stops the read loop.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	close(c.closedCh)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// readLoop dispatches inbound frames: correlated responses go to their
// waiting caller, notifications go to the current watch callback. On
// connection loss it reconnects with a fixed backoff and, per §4's
// reconnect-safe watch set, re-issues the last WatchAddresses subscription
// so the engine's push path survives a dropped Blockbook connection without
// the engine itself noticing.
func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.WithError(err).Warn("blockbook connection dropped, reconnecting")
			c.reconnectLoop()
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			log.WithError(err).Warn("dropping malformed blockbook frame")
			continue
		}

		if resp.ID == notificationID {
			c.dispatchNotification(resp.Data)
			continue
		}
		c.dispatchResponse(resp)
	}
}

func (c *Client) dispatchNotification(data json.RawMessage) {
	var n wireAddressNotification
	if err := json.Unmarshal(data, &n); err != nil {
		log.WithError(err).Warn("malformed address notification")
		return
	}
	c.mu.Lock()
	cb := c.watch.callback
	c.mu.Unlock()
	if cb != nil {
		cb(ports.AddressChange{Address: n.Address})
	}
}

func (c *Client) dispatchResponse(resp rpcResponse) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	ch <- resp
	close(ch)
}

func (c *Client) reconnectLoop() {
	for {
		select {
		case <-c.closedCh:
			return
		default:
		}
		if err := c.connect(); err != nil {
			log.WithError(err).WithField("wait", c.cfg.ReconnectWait).Warn("blockbook reconnect failed, retrying")
			time.Sleep(c.cfg.ReconnectWait)
			continue
		}
		c.mu.Lock()
		watch := c.watch
		c.mu.Unlock()
		if watch.callback != nil && len(watch.addresses) > 0 {
			// Sent from its own goroutine: the reply is read by readLoop,
			// which resumes only after reconnectLoop returns.
			go func() {
				if err := c.sendWatchAddresses(watch.addresses); err != nil {
					log.WithError(err).Warn("failed to re-arm address subscription after reconnect")
				}
			}()
		}
		return
	}
}

// call sends a correlated JSON-RPC request through the rate limiter and
// circuit breaker, and waits for its matching response.
func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", domain.ErrTransientNetwork, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doCall(ctx, method, params)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: blockbook circuit breaker open: %v", domain.ErrTransientNetwork, err)
		}
		return nil, err
	}
	return result.(json.RawMessage), nil
}

func (c *Client) doCall(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := uuid.New().String()
	replyCh := make(chan rpcResponse, 1)

	c.mu.Lock()
	c.pending[id] = replyCh
	conn := c.conn
	c.mu.Unlock()

	payload, err := json.Marshal(rpcRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, fmt.Errorf("%w: writing blockbook request: %v", domain.ErrTransientNetwork, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-replyCh:
		return resp.Data, nil
	}
}

// FetchAddress implements ports.Indexer.
func (c *Client) FetchAddress(ctx context.Context, address string, opts ports.AddressDetailsOpts) (*ports.AddressDetails, error) {
	data, err := c.call(ctx, "getAccountInfo", getAccountInfoParams{
		Descriptor: address,
		Details:    opts.Details,
		From:       opts.From,
		PageSize:   opts.PerPage,
		Page:       opts.Page,
	})
	if err != nil {
		return nil, err
	}

	var wire wireAccountInfo
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: parsing getAccountInfo response for %s: %v", domain.ErrMalformedIndexerData, address, err)
	}

	transactions := make([]ports.IndexerTx, 0, len(wire.Transactions))
	for _, tx := range wire.Transactions {
		transactions = append(transactions, toIndexerTx(tx))
	}

	return &ports.AddressDetails{
		Balance:            wire.Balance,
		UnconfirmedBalance: wire.UnconfirmedBalance,
		Txs:                wire.Txs,
		UnconfirmedTxs:     wire.UnconfirmedTxs,
		Transactions:       transactions,
		TotalPages:         wire.TotalPages,
	}, nil
}

func toIndexerTx(tx wireTx) ports.IndexerTx {
	inputs := make([]ports.IndexerTxInput, len(tx.Vin))
	for i, in := range tx.Vin {
		inputs[i] = ports.IndexerTxInput{
			Txid:         in.Txid,
			Vout:         in.Vout,
			ScriptPubkey: in.ScriptPubkey,
			Addresses:    in.Addresses,
			Amount:       in.Value,
		}
	}
	outputs := make([]ports.IndexerTxOutput, len(tx.Vout))
	for i, out := range tx.Vout {
		outputs[i] = ports.IndexerTxOutput{N: out.N, ScriptPubkey: out.ScriptPubkey, Amount: out.Value}
	}
	return ports.IndexerTx{
		Txid:        tx.Txid,
		Hex:         tx.Hex,
		BlockHeight: tx.BlockHeight,
		BlockTime:   tx.BlockTime,
		Fees:        tx.Fees,
		Inputs:      inputs,
		Outputs:     outputs,
	}
}

// FetchAddressUtxos implements ports.Indexer.
func (c *Client) FetchAddressUtxos(ctx context.Context, address string) ([]ports.IndexerUtxo, error) {
	data, err := c.call(ctx, "getAccountUtxo", map[string]string{"descriptor": address})
	if err != nil {
		return nil, err
	}
	var wire []wireUtxo
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: parsing getAccountUtxo response for %s: %v", domain.ErrMalformedIndexerData, address, err)
	}
	out := make([]ports.IndexerUtxo, len(wire))
	for i, u := range wire {
		out[i] = ports.IndexerUtxo{Txid: u.Txid, Vout: u.Vout, Value: u.Value, Height: u.Height}
	}
	return out, nil
}

// FetchTransaction implements ports.Indexer.
func (c *Client) FetchTransaction(ctx context.Context, txid string) (*ports.RawTx, error) {
	data, err := c.call(ctx, "getTransaction", map[string]string{"txid": txid})
	if err != nil {
		return nil, err
	}
	var wire wireRawTx
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: parsing getTransaction response for %s: %v", domain.ErrMalformedIndexerData, txid, err)
	}
	return &ports.RawTx{Txid: wire.Txid, Hex: wire.Hex}, nil
}

// WatchAddresses implements ports.Indexer: (re)issues a subscription for
// the full address set and remembers it so a reconnect can re-arm it.
func (c *Client) WatchAddresses(ctx context.Context, addresses []string, cb func(ports.AddressChange)) error {
	c.mu.Lock()
	c.watch = watchState{addresses: addresses, callback: cb}
	c.mu.Unlock()
	return c.sendWatchAddresses(addresses)
}

func (c *Client) sendWatchAddresses(addresses []string) error {
	_, err := c.call(context.Background(), "subscribeAddresses", watchAddressesParams{Addresses: addresses})
	return err
}

var _ ports.Indexer = (*Client)(nil)
