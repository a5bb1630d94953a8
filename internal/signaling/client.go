package signaling

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/dialkit/dialkit/internal/call"
)

// Client is a websocket signaling client. One reader goroutine decodes
// envelopes and fans them out to subscribers; writes are serialized by a
// mutex because gorilla connections allow a single concurrent writer.
type Client struct {
	selfID string
	conn   *websocket.Conn

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[chan call.InboundMessage]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the signaling server and starts the read loop.
func Dial(ctx context.Context, url, selfID string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		selfID: selfID,
		conn:   conn,
		subs:   map[chan call.InboundMessage]struct{}{},
		done:   make(chan struct{}),
	}
	go c.readLoop()
	log.Printf("SIGNAL [%s]: connected to %s", selfID, url)
	return c, nil
}

// Close shuts the connection down and closes all subscriber channels.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
		c.closeSubs()
	})
	return nil
}

func (c *Client) readLoop() {
	defer c.closeSubs()
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
			default:
				log.Printf("SIGNAL [%s]: read: %v", c.selfID, err)
			}
			return
		}
		msg, ok := decode(env)
		if !ok {
			continue
		}
		c.broadcast(msg)
	}
}

// decode turns a wire envelope into an orchestrator message. Unknown types
// and malformed payloads are skipped, not fatal.
func decode(env Envelope) (call.InboundMessage, bool) {
	msg := call.InboundMessage{
		Type:   call.MessageType(env.Type),
		CallID: env.CallID,
		From:   env.From,
		Room:   env.Room,
	}
	switch msg.Type {
	case call.MessageInvite:
		var p InvitePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Printf("SIGNAL: bad invite payload for %s: %v", env.CallID, err)
			return call.InboundMessage{}, false
		}
		msg.Video = p.Video
		msg.SDP = p.SDP
	case call.MessageAnswer:
		var p AnswerPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Printf("SIGNAL: bad answer payload for %s: %v", env.CallID, err)
			return call.InboundMessage{}, false
		}
		msg.SDP = p.SDP
	case call.MessageCandidates:
		var p CandidatesPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Printf("SIGNAL: bad candidates payload for %s: %v", env.CallID, err)
			return call.InboundMessage{}, false
		}
		msg.Candidates = p.Candidates
	case call.MessageHangup:
		// No payload.
	default:
		log.Printf("SIGNAL: unknown message type %q", env.Type)
		return call.InboundMessage{}, false
	}
	return msg, true
}

func (c *Client) broadcast(msg call.InboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- msg:
		default:
			log.Printf("SIGNAL [%s]: subscriber full, dropping %s", c.selfID, msg.Type)
		}
	}
}

func (c *Client) closeSubs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
}

// Subscribe registers a channel receiving every inbound call message.
// cancel is idempotent and closes the channel.
func (c *Client) Subscribe() (<-chan call.InboundMessage, func()) {
	ch := make(chan call.InboundMessage, 16)

	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Client) send(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *Client) sendWithPayload(msgType call.MessageType, callID, to, room string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = b
	}
	return c.send(Envelope{
		Type:    string(msgType),
		CallID:  callID,
		From:    c.selfID,
		To:      to,
		Room:    room,
		Payload: raw,
	})
}

func (c *Client) SendInvite(callID, room, peer string, video bool, offerSDP string) error {
	return c.sendWithPayload(call.MessageInvite, callID, peer, room, InvitePayload{Video: video, SDP: offerSDP})
}

func (c *Client) SendCandidates(callID string, candidates []webrtc.ICECandidateInit) error {
	return c.sendWithPayload(call.MessageCandidates, callID, "", "", CandidatesPayload{Candidates: candidates})
}

func (c *Client) SendAnswer(callID, answerSDP string) error {
	return c.sendWithPayload(call.MessageAnswer, callID, "", "", AnswerPayload{SDP: answerSDP})
}

func (c *Client) SendHangup(callID string) error {
	return c.sendWithPayload(call.MessageHangup, callID, "", "", nil)
}
