package server

import (
	"log"
	"sync"

	"github.com/avolkov/chatka/internal/database"
	"github.com/avolkov/chatka/internal/stats"
)

const (
	metricActiveClients = "active_clients"
	metricActiveRooms   = "active_rooms"
	metricMessages      = "messages_total"
	metricPushDispatch  = "push_dispatches_total"
)

// PushNotifier is the hook into the push dispatcher. Notify must never
// block the caller's room for longer than its own bounded timeout and
// must swallow provider failures.
type PushNotifier interface {
	Notify(chat database.Chat, msg database.Message)
}

type ChatServer struct {
	log            *log.Logger
	db             database.ChatRepository
	stats          stats.StatsProvider
	push           PushNotifier
	presence       *PresenceRegistry
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	identifyChan   chan *ClientMessage
	registerChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan string
	rooms          map[string]*Room
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, su stats.StatsProvider, push PushNotifier) (*ChatServer, error) {
	su.RegisterMetric(metricActiveClients)
	su.RegisterMetric(metricActiveRooms)
	su.RegisterMetric(metricMessages)
	su.RegisterMetric(metricPushDispatch)

	return &ChatServer{
		log:            logger,
		db:             db,
		stats:          su,
		push:           push,
		presence:       NewPresenceRegistry(),
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		identifyChan:   make(chan *ClientMessage, 256),
		registerChan:   make(chan *Client, 256),
		deRegisterChan: make(chan *Client, 256),
		unloadRoomChan: make(chan string, 256),
		rooms:          make(map[string]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

// Presence exposes the registry for status lookups.
func (cs *ChatServer) Presence() *PresenceRegistry {
	return cs.presence
}

func (cs *ChatServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoinRoom(joinMsg)
		case onlineMsg := <-cs.identifyChan:
			cs.handleIdentify(onlineMsg)
		case client := <-cs.registerChan:
			cs.addClient(client)
			cs.stats.Incr(metricActiveClients)
		case client := <-cs.deRegisterChan:
			cs.removeClient(client)
			cs.stats.Decr(metricActiveClients)
		case id := <-cs.unloadRoomChan:
			cs.unloadRoom(id)
		case <-cs.stop:
			cs.unloadAllRooms()
			close(cs.done)
			return
		}
	}
}

// handleJoinRoom routes a join to the chat's room, loading the room
// from the database on first use. Unknown chat ids are rejected, never
// implicitly created.
func (cs *ChatServer) handleJoinRoom(joinMsg *ClientMessage) {
	if room, ok := cs.rooms[joinMsg.Join.ChatId]; ok {
		select {
		case room.joinChan <- joinMsg:
		default:
			cs.log.Printf("join channel full on room %q", room.chat.ExternalId)
			joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
		}
		return
	}

	chat, err := cs.db.GetChatByExternalId(joinMsg.Join.ChatId)
	if err != nil {
		joinMsg.client.queueMessage(ErrChatNotFound(joinMsg.Id))
		return
	}

	lastMsgTime, err := cs.db.LatestMessageTime(chat.Id)
	if err != nil {
		cs.log.Println("LatestMessageTime:", err)
		joinMsg.client.queueMessage(ErrInternalError(joinMsg.Id))
		return
	}

	room := newRoom(chat, lastMsgTime, cs)
	cs.rooms[chat.ExternalId] = room
	cs.stats.Incr(metricActiveRooms)
	room.joinChan <- joinMsg

	go room.start()
}

// handleIdentify binds the connection to its username in the presence
// registry and persists the online flag. A prior connection for the
// same username is superseded, not closed.
func (cs *ChatServer) handleIdentify(msg *ClientMessage) {
	c := msg.client
	if prev := cs.presence.SetOnline(c.user.Username, c); prev != nil {
		cs.log.Printf("superseding connection for %q", c.user.Username)
	}

	if err := cs.db.UpdateUserPresence(c.user.Username, true, msg.Timestamp); err != nil {
		cs.log.Println("UpdateUserPresence:", err)
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.registerChan <- c
}

func (cs *ChatServer) DeregisterClient(c *Client) {
	cs.deRegisterChan <- c
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	delete(cs.clients, c)
	cs.clientsLock.Unlock()

	if !c.identified {
		return
	}

	now := Now()
	if cs.presence.SetOffline(c.user.Username, c, now) {
		if err := cs.db.UpdateUserPresence(c.user.Username, false, now); err != nil {
			cs.log.Println("UpdateUserPresence:", err)
		}
	}
}

func (cs *ChatServer) unloadRoom(id string) {
	r, ok := cs.rooms[id]
	if !ok {
		return
	}

	delete(cs.rooms, id)
	cs.stats.Decr(metricActiveRooms)

	done := make(chan string)
	r.exit <- exitReq{done: done}
	<-done
}

func (cs *ChatServer) unloadAllRooms() {
	cs.log.Println("shutting down rooms")
	for id := range cs.rooms {
		cs.unloadRoom(id)
	}
}

func (cs *ChatServer) Shutdown() {
	cs.log.Println("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	<-cs.done
}
