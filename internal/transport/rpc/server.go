package rpc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/xiaot623/agentmatch/internal/domain"
	"github.com/xiaot623/agentmatch/internal/service"
)

// ServiceName is the name the handler is registered under.
const ServiceName = "Matchmaker"

// Server exposes the agent protocol over JSON-RPC for internal clients.
type Server struct {
	listener  net.Listener
	rpcServer *rpc.Server
	done      chan struct{}
}

// NewServer creates a new RPC server bound to the matchmaker service.
func NewServer(svc *service.Service) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc}
	if err := rpcServer.RegisterName(ServiceName, handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		done:      make(chan struct{}),
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts RPC connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			log.Printf("RPC accept error: %v", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}

	if err := s.listener.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements matchmaker RPC methods.
type Handler struct {
	service *service.Service
}

// PollStatusArgs identifies the polling agent.
type PollStatusArgs struct {
	AgentID string `json:"agent_id"`
}

// GetConversationArgs identifies a conversation and the participant asking.
type GetConversationArgs struct {
	ConvoID string `json:"convo_id"`
	AgentID string `json:"agent_id"`
}

// PostMessageArgs wraps conversation IDs with the message payload.
type PostMessageArgs struct {
	ConvoID string                    `json:"convo_id"`
	Request domain.PostMessageRequest `json:"request"`
}

// SubmitVerdictArgs wraps conversation IDs with the verdict payload.
type SubmitVerdictArgs struct {
	ConvoID string                `json:"convo_id"`
	Request domain.VerdictRequest `json:"request"`
}

// Register registers an agent.
func (h *Handler) Register(req *domain.RegisterRequest, resp *domain.StatusResponse) error {
	if req == nil {
		return errors.New("register request is required")
	}

	result, err := h.service.Register(context.Background(), *req)
	if err != nil {
		return rpcError(err)
	}
	if resp != nil && result != nil {
		*resp = *result
	}
	return nil
}

// PollStatus reports where an agent is.
func (h *Handler) PollStatus(req *PollStatusArgs, resp *domain.StatusResponse) error {
	if req == nil {
		return errors.New("poll request is required")
	}

	result, err := h.service.PollStatus(context.Background(), req.AgentID)
	if err != nil {
		return rpcError(err)
	}
	if resp != nil && result != nil {
		*resp = *result
	}
	return nil
}

// GetConversation describes a conversation for one participant.
func (h *Handler) GetConversation(req *GetConversationArgs, resp *domain.ConversationView) error {
	if req == nil {
		return errors.New("conversation request is required")
	}
	if req.ConvoID == "" {
		return errors.New("convo_id is required")
	}

	result, err := h.service.DescribeFor(context.Background(), req.ConvoID, req.AgentID)
	if err != nil {
		return rpcError(err)
	}
	if resp != nil && result != nil {
		*resp = *result
	}
	return nil
}

// PostMessage appends a message to a conversation.
func (h *Handler) PostMessage(req *PostMessageArgs, resp *domain.PostMessageResponse) error {
	if req == nil {
		return errors.New("message request is required")
	}
	if req.ConvoID == "" {
		return errors.New("convo_id is required")
	}

	result, err := h.service.PostMessage(context.Background(), req.ConvoID, req.Request)
	if err != nil {
		return rpcError(err)
	}
	if resp != nil && result != nil {
		*resp = *result
	}
	return nil
}

// SubmitVerdict records a participant's verdict.
func (h *Handler) SubmitVerdict(req *SubmitVerdictArgs, resp *domain.VerdictResponse) error {
	if req == nil {
		return errors.New("verdict request is required")
	}
	if req.ConvoID == "" {
		return errors.New("convo_id is required")
	}

	result, err := h.service.SubmitVerdict(context.Background(), req.ConvoID, req.Request)
	if err != nil {
		return rpcError(err)
	}
	if resp != nil && result != nil {
		*resp = *result
	}
	return nil
}

// rpcError flattens err into the "code: message" form carried by JSON-RPC
// error strings.
func rpcError(err error) error {
	code := domain.CodeOf(err)
	if code == "" {
		return err
	}
	return fmt.Errorf("%s: %s", code, err.Error())
}
