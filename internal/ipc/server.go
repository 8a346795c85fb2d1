package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wellsgz/netpulse/internal/logging"
	"github.com/wellsgz/netpulse/internal/monitor"
	"github.com/wellsgz/netpulse/internal/storage"
)

const (
	maxLineSize = 1024 * 1024
	writeWait   = time.Second

	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Engine is the monitoring surface served over the socket
type Engine interface {
	AddTarget(t string) error
	RemoveTarget(t string)
	ListTargets() []string
	Snapshot(t string) (storage.TargetStats, error)
	FetchHistory(t string, from, to time.Time) ([]storage.DataPoint, error)
	Journal() storage.Journal
	Subscribe() <-chan monitor.Update
	Unsubscribe(ch <-chan monitor.Update)
}

// Server handles Unix socket connections from CLI and TUI clients
type Server struct {
	socketPath string
	listener   net.Listener
	engine     Engine

	clients   map[*serverClient]struct{}
	clientsMu sync.RWMutex

	ctx    chan struct{} // closed when stopping
	wg     sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

// serverClient represents a connected client
type serverClient struct {
	conn       net.Conn
	encoder    *json.Encoder
	subscribed bool
	mu         sync.Mutex
}

// NewServer creates a new IPC server
func NewServer(socketPath string, engine Engine) *Server {
	return &Server{
		socketPath: socketPath,
		engine:     engine,
		clients:    make(map[*serverClient]struct{}),
		ctx:        make(chan struct{}),
	}
}

// Start begins listening for connections and returns immediately
func (s *Server) Start() error {
	// Remove a stale socket left by a crashed daemon
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener

	if err := os.Chmod(s.socketPath, 0660); err != nil {
		logging.Warn("IPC", "failed to set socket permissions", zap.Error(err))
	}

	logging.Info("IPC", "server listening", zap.String("socket", s.socketPath))

	updates := s.engine.Subscribe()
	s.wg.Add(2)
	go s.broadcastUpdates(updates)
	go s.acceptLoop()

	return nil
}

// acceptLoop accepts new connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx:
				return
			default:
			}

			// Back off so a persistent error such as EMFILE does not spin
			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(delay*2, maxAcceptDelay)
			}
			logging.Error("IPC", "accept error", err, zap.Duration("retry_in", delay))
			select {
			case <-s.ctx:
				return
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		client := &serverClient{
			conn:    conn,
			encoder: json.NewEncoder(conn),
		}

		s.clientsMu.Lock()
		s.clients[client] = struct{}{}
		s.clientsMu.Unlock()

		s.wg.Add(1)
		go s.handleClient(client)
	}
}

// handleClient serves one connection until it closes
func (s *Server) handleClient(client *serverClient) {
	defer s.wg.Done()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client)
		s.clientsMu.Unlock()
		client.conn.Close()
	}()

	scanner := bufio.NewScanner(client.conn)
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			client.sendError("", CodeBadRequest, fmt.Sprintf("invalid request: %v", err))
			continue
		}

		s.handleRequest(client, &req)
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-s.ctx:
		default:
			logging.Debug("IPC", "client read error", zap.Error(err))
		}
	}
}

// decode unmarshals request data, replying with an error on failure
func decode(client *serverClient, req *Request, v any) bool {
	if err := json.Unmarshal(req.Data, v); err != nil {
		client.sendError(req.ID, CodeBadRequest, fmt.Sprintf("invalid %s payload: %v", req.Type, err))
		return false
	}
	return true
}

// handleRequest processes a client request
func (s *Server) handleRequest(client *serverClient, req *Request) {
	switch req.Type {
	case MsgTypeSubscribe:
		client.mu.Lock()
		client.subscribed = true
		client.mu.Unlock()
		client.sendOK(req.ID)

	case MsgTypeUnsubscribe:
		client.mu.Lock()
		client.subscribed = false
		client.mu.Unlock()
		client.sendOK(req.ID)

	case MsgTypeAddTarget:
		var r TargetRequest
		if !decode(client, req, &r) {
			return
		}
		if err := s.engine.AddTarget(r.Target); err != nil {
			client.sendError(req.ID, errorCode(err), err.Error())
			return
		}
		client.sendOK(req.ID)

	case MsgTypeRemoveTarget:
		var r TargetRequest
		if !decode(client, req, &r) {
			return
		}
		s.engine.RemoveTarget(r.Target)
		client.sendOK(req.ID)

	case MsgTypeListTargets:
		client.sendResponse(req.ID, MsgTypeTargets, TargetsResponse{Targets: s.engine.ListTargets()})

	case MsgTypeGetSnapshot:
		var r TargetRequest
		if !decode(client, req, &r) {
			return
		}
		stats, err := s.engine.Snapshot(r.Target)
		if err != nil {
			client.sendError(req.ID, errorCode(err), err.Error())
			return
		}
		client.sendResponse(req.ID, MsgTypeSnapshot, stats)

	case MsgTypeGetEvents:
		var r GetEventsRequest
		if !decode(client, req, &r) {
			return
		}
		events, err := s.events(r)
		if err != nil {
			client.sendError(req.ID, errorCode(err), err.Error())
			return
		}
		client.sendResponse(req.ID, MsgTypeEvents, EventsResponse{Target: r.Target, Events: events})

	case MsgTypeGetHistory:
		var r GetHistoryRequest
		if !decode(client, req, &r) {
			return
		}
		points, err := s.engine.FetchHistory(r.Target, r.From, r.To)
		if err != nil {
			client.sendError(req.ID, CodeInternal, fmt.Sprintf("failed to fetch history: %v", err))
			return
		}
		client.sendResponse(req.ID, MsgTypeHistory, HistoryResponse{
			Target:     r.Target,
			DataPoints: toIPCPoints(points),
		})

	default:
		client.sendError(req.ID, CodeBadRequest, fmt.Sprintf("unknown request type: %s", req.Type))
	}
}

func (s *Server) events(r GetEventsRequest) ([]string, error) {
	switch r.Source {
	case "", "memory":
		stats, err := s.engine.Snapshot(r.Target)
		if err != nil {
			return nil, err
		}
		return stats.RecentEvents(r.Limit), nil

	case "journal":
		journal := s.engine.Journal()
		if journal == nil {
			return nil, fmt.Errorf("event journal is disabled")
		}
		records, err := journal.Recent(r.Target, r.Limit)
		if err != nil {
			return nil, err
		}
		events := make([]string, len(records))
		for i, rec := range records {
			events[i] = rec.Message
		}
		return events, nil
	}
	return nil, fmt.Errorf("unknown event source %q", r.Source)
}

// broadcastUpdates pushes every monitor update to subscribed clients
func (s *Server) broadcastUpdates(ch <-chan monitor.Update) {
	defer s.wg.Done()
	defer s.engine.Unsubscribe(ch)

	for {
		select {
		case <-s.ctx:
			return
		case u, ok := <-ch:
			if !ok {
				return
			}

			data, err := json.Marshal(u)
			if err != nil {
				logging.Error("IPC", "failed to encode update", err)
				continue
			}
			resp := Response{Type: MsgTypeUpdate, Data: data}

			s.clientsMu.RLock()
			for client := range s.clients {
				client.mu.Lock()
				if client.subscribed {
					// A stalled reader must not hold up the others
					client.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := client.encoder.Encode(resp); err != nil {
						logging.Debug("IPC", "failed to push update", zap.Error(err))
					}
					client.conn.SetWriteDeadline(time.Time{})
				}
				client.mu.Unlock()
			}
			s.clientsMu.RUnlock()
		}
	}
}

// Stop closes the listener and every connection, then removes the socket file
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.ctx)

	if s.listener != nil {
		s.listener.Close()
	}

	s.clientsMu.Lock()
	for client := range s.clients {
		client.conn.Close()
	}
	s.clientsMu.Unlock()

	s.wg.Wait()

	os.Remove(s.socketPath)

	logging.Info("IPC", "server stopped")
	return nil
}

// sendOK sends an OK response
func (c *serverClient) sendOK(reqID string) {
	c.send(Response{ID: reqID, Type: MsgTypeOK})
}

// sendError sends an error response
func (c *serverClient) sendError(reqID, code, msg string) {
	c.send(Response{ID: reqID, Type: MsgTypeError, Code: code, Error: msg})
}

// sendResponse sends a response with data
func (c *serverClient) sendResponse(reqID string, msgType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		logging.Error("IPC", "failed to encode response", err, zap.String("type", msgType))
		c.sendError(reqID, CodeInternal, "failed to encode response")
		return
	}
	c.send(Response{ID: reqID, Type: msgType, Data: raw})
}

func (c *serverClient) send(resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.encoder.Encode(resp); err != nil {
		logging.Debug("IPC", "failed to send response", zap.String("type", resp.Type), zap.Error(err))
	}
}
