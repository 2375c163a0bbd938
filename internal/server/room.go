package server

import (
	"log"
	"sync"
	"time"

	"github.com/avolkov/chatka/internal/database"
	"github.com/avolkov/chatka/internal/types"
	"github.com/google/uuid"
)

const idleRoomTimeout = time.Minute

type exitReq struct {
	done chan string
}

// Room fans events out to the connections currently joined for one
// chat. Its goroutine serializes joins, leaves, sends and reads for
// the chat, which is what makes per-chat message order equal to
// persist order.
type Room struct {
	chat          database.Chat
	cs            *ChatServer
	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	clients       map[*Client]struct{}
	clientLock    sync.RWMutex
	// lastMsgTime is the timestamp watermark for the chat; new messages
	// are stamped no earlier than this.
	lastMsgTime time.Time
	log         *log.Logger
	killTimer   *time.Timer
	exit        chan exitReq
}

func newRoom(chat database.Chat, lastMsgTime time.Time, cs *ChatServer) *Room {
	return &Room{
		chat:          chat,
		cs:            cs,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		clients:       make(map[*Client]struct{}),
		lastMsgTime:   lastMsgTime,
		log:           cs.log,
		exit:          make(chan exitReq),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.chat.ExternalId)
	r.killTimer = time.NewTimer(idleRoomTimeout)

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.clientMsgChan:
			if msg.Publish != nil {
				r.saveAndBroadcast(msg)
			} else if msg.Read != nil {
				r.handleRead(msg)
			}
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleRoomTimeout() {
	select {
	case r.cs.unloadRoomChan <- r.chat.ExternalId:
	default:
		// hub is busy, try again next interval
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.chat.ExternalId)

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.chat.ExternalId)
	}
	r.clients = make(map[*Client]struct{})
	r.clientLock.Unlock()

	if e.done != nil {
		e.done <- r.chat.ExternalId
	}
}

// handleJoin adds the client to the room. Joining twice is a no-op
// beyond re-sending the chat snapshot.
func (r *Room) handleJoin(join *ClientMessage) {
	if r.killTimer != nil {
		r.killTimer.Stop()
	}

	c := join.client
	r.addClient(c)

	c.queueMessage(NoErrOK(join.Id, types.Chat{
		Id:        r.chat.ExternalId,
		Name:      r.chat.Name,
		Members:   r.chat.Members,
		IsGroup:   r.chat.IsGroup(),
		CreatedAt: r.chat.CreatedAt,
	}))

	r.broadcast(&ServerMessage{
		Notification: &Notification{
			Presence: &PresenceNote{
				Username: c.user.Username,
				Online:   true,
				ChatId:   r.chat.ExternalId,
			},
		},
		SkipClient: c,
	})
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	c := leaveMsg.client
	r.removeClient(c)

	if leaveMsg.Leave.ChatId != "" && leaveMsg.Id != 0 {
		c.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}

	r.broadcast(&ServerMessage{
		Notification: &Notification{
			Presence: &PresenceNote{
				Username: c.user.Username,
				Online:   false,
				ChatId:   r.chat.ExternalId,
			},
		},
		SkipClient: c,
	})
}

// handleRead marks every message in the chat as read by the client's
// user. The database union is idempotent, so duplicate reads are safe.
func (r *Room) handleRead(msg *ClientMessage) {
	if err := r.cs.db.MarkChatRead(r.chat.Id, msg.client.user.Username); err != nil {
		r.log.Println("MarkChatRead:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	msg.client.queueMessage(NoErrOK(msg.Id, nil))

	r.broadcast(&ServerMessage{
		Notification: &Notification{
			Read: &ReadNote{
				ChatId:   r.chat.ExternalId,
				Username: msg.client.user.Username,
			},
		},
		SkipClient: msg.client,
	})
}

// saveAndBroadcast runs the message pipeline: validate, persist with a
// monotonic per-chat timestamp, ack the sender, fan out to the room,
// then trigger push delivery off the room goroutine. Nothing is
// broadcast unless the persist succeeded.
func (r *Room) saveAndBroadcast(msg *ClientMessage) {
	pub := msg.Publish
	if !validPayload(pub) {
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = Now()
	}
	if !ts.After(r.lastMsgTime) {
		ts = r.lastMsgTime
	}

	saved, err := r.cs.db.CreateMessage(database.Message{
		Id:         uuid.NewString(),
		ChatId:     r.chat.Id,
		Sender:     msg.client.user.Username,
		Kind:       string(pub.Type),
		Body:       pub.Text,
		Attachment: pub.File,
		CreatedAt:  ts,
	})
	if err != nil {
		r.log.Println("error saving message:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	r.lastMsgTime = ts
	r.cs.stats.Incr(metricMessages)

	msg.client.queueMessage(NoErrAccepted(msg.Id, map[string]any{"message_id": saved.Id}))

	// the sender receives its own echo along with everyone else
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        msg.Id,
			Timestamp: ts,
		},
		Message: &types.Message{
			Id:        saved.Id,
			ChatId:    r.chat.ExternalId,
			User:      saved.Sender,
			Type:      types.MessageKind(saved.Kind),
			Text:      saved.Body,
			File:      saved.Attachment,
			ReadBy:    saved.ReadBy,
			CreatedAt: saved.CreatedAt,
		},
	})

	r.cs.stats.Incr(metricPushDispatch)
	go r.cs.push.Notify(r.chat, saved)
}

func validPayload(pub *Publish) bool {
	if !pub.Type.Valid() {
		return false
	}
	if pub.Type == types.KindText {
		return pub.Text != ""
	}
	return pub.File != ""
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoom(r.chat.ExternalId)

	if len(r.clients) == 0 && r.killTimer != nil {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// broadcast delivers msg to every client currently in the room except
// SkipClient. Delivery is best-effort per client: a client with a full
// queue is skipped without affecting the others.
func (r *Room) broadcast(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		if !client.queueMessage(msg) {
			r.log.Printf("failed to deliver to %q in chat %q", client.user.Username, r.chat.ExternalId)
		}
	}
}
