package coordination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/raft"
	"go.uber.org/zap"
)

// Reserved key prefix mapping node ids to cluster RPC addresses. Written by
// the leader, read by followers to forward commands.
const rpcKeyPrefix = "cluster/rpc/"

const joinRetryInterval = time.Second

type joinRequest struct {
	NodeID   string `json:"node_id"`
	RaftAddr string `json:"raft_addr"`
	RPCAddr  string `json:"rpc_addr,omitempty"`
}

// startRPCServer binds the cluster RPC endpoint used for membership joins
// and for forwarding writes from followers to the leader.
func (s *Store) startRPCServer() error {
	ln, err := net.Listen("tcp", s.config.RPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on rpc address: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/join", s.handleJoin)
	mux.HandleFunc("/apply", s.handleApply)

	s.rpcServer = &http.Server{Handler: mux}
	go func() {
		if err := s.rpcServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Cluster RPC server error", zap.Error(err))
		}
	}()

	s.logger.Info("Cluster RPC server listening", zap.String("address", s.config.RPCAddr))
	return nil
}

func (s *Store) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodeID == "" || req.RaftAddr == "" {
		http.Error(w, "invalid join request", http.StatusBadRequest)
		return
	}
	if s.raft.State() != raft.Leader {
		http.Error(w, "not leader", http.StatusConflict)
		return
	}

	if err := s.Join(req.NodeID, req.RaftAddr); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if req.RPCAddr != "" {
		if err := s.applyLocal(&command{Op: "set", Key: rpcKeyPrefix + req.NodeID, Value: []byte(req.RPCAddr)}); err != nil {
			s.logger.Warn("Failed to record joiner rpc address",
				zap.String("node_id", req.NodeID),
				zap.Error(err),
			)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Store) handleApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var cmd command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid command", http.StatusBadRequest)
		return
	}
	if s.raft.State() != raft.Leader {
		http.Error(w, "not leader", http.StatusConflict)
		return
	}

	if err := s.applyLocal(&cmd); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Join adds a server to the cluster. Leader only. A node re-joining under
// the same id with a new address replaces its previous entry.
func (s *Store) Join(nodeID, addr string) error {
	s.logger.Info("Received join request",
		zap.String("node_id", nodeID),
		zap.String("addr", addr),
	)

	configFuture := s.raft.GetConfiguration()
	if err := configFuture.Error(); err != nil {
		return fmt.Errorf("failed to get configuration: %w", err)
	}

	for _, srv := range configFuture.Configuration().Servers {
		if srv.ID == raft.ServerID(nodeID) {
			if srv.Address == raft.ServerAddress(addr) {
				s.logger.Info("Node already member of cluster",
					zap.String("node_id", nodeID),
				)
				return nil
			}
			removeFuture := s.raft.RemoveServer(srv.ID, 0, 0)
			if err := removeFuture.Error(); err != nil {
				return fmt.Errorf("failed to remove existing node: %w", err)
			}
		}
	}

	if err := s.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 0).Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}

	s.logger.Info("Node joined cluster",
		zap.String("node_id", nodeID),
		zap.String("addr", addr),
	)
	return nil
}

// Remove removes a server from the cluster. Leader only.
func (s *Store) Remove(nodeID string) error {
	if err := s.raft.RemoveServer(raft.ServerID(nodeID), 0, 0).Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}

	s.logger.Info("Node removed from cluster", zap.String("node_id", nodeID))
	return nil
}

// JoinCluster announces this node to an existing cluster member at joinAddr
// and retries until accepted or the context expires. The remote member may
// not be the leader yet, or a leader may not exist yet; both resolve with
// time, so rejections are retried.
func (s *Store) JoinCluster(ctx context.Context, joinAddr string) error {
	if s.config.RPCAddr == "" {
		return fmt.Errorf("rpc address is required to join a cluster")
	}

	payload, err := json.Marshal(joinRequest{
		NodeID:   s.config.LocalID,
		RaftAddr: s.localAddr,
		RPCAddr:  s.config.RPCAddr,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal join request: %w", err)
	}

	var lastErr error
	for {
		if lastErr = s.requestJoin(ctx, joinAddr, payload); lastErr == nil {
			s.logger.Info("Joined cluster", zap.String("via", joinAddr))
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("join not accepted: %w (last attempt: %v)", ctx.Err(), lastErr)
		case <-time.After(joinRetryInterval):
		}
	}
}

func (s *Store) requestJoin(ctx context.Context, joinAddr string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+joinAddr+"/join", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("join rejected: %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return nil
}

// forward sends a command to the leader's cluster RPC endpoint. Used when
// this node is a follower.
func (s *Store) forward(cmd *command) error {
	_, leaderID := s.raft.LeaderWithID()
	if leaderID == "" {
		return fmt.Errorf("no leader available")
	}

	rpcAddr, err := s.fsm.get(rpcKeyPrefix + string(leaderID))
	if err != nil {
		return fmt.Errorf("leader rpc address unknown: %w", err)
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, "http://"+string(rpcAddr)+"/apply", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to forward command to leader: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("leader rejected command: %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return nil
}

// announceRPCAddr publishes this node's cluster RPC address so followers
// can forward writes. Called whenever this node observes itself as leader.
func (s *Store) announceRPCAddr() {
	if err := s.applyLocal(&command{
		Op:    "set",
		Key:   rpcKeyPrefix + s.config.LocalID,
		Value: []byte(s.config.RPCAddr),
	}); err != nil {
		s.logger.Warn("Failed to announce rpc address", zap.Error(err))
	}
}
