// Package rest provides the Gin-based HTTP surface the external client
// layers (file transfer, CLI) use to store and retrieve values.
package rest

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/NekoTensor/dhtshare/internal/kademlia"
	"github.com/NekoTensor/dhtshare/internal/storage"
)

// DHTNode is the node-facing API the REST surface consumes.
type DHTNode interface {
	Store(ctx context.Context, key, value []byte) error
	Lookup(ctx context.Context, key []byte) ([]byte, error)
	Self() kademlia.Contact
	RoutingTable() *kademlia.RoutingTable
	Records() storage.RecordStore
}

// Server is the REST API server.
type Server struct {
	engine *gin.Engine
	node   DHTNode
	logger *zap.Logger
}

// New creates a REST Server.
func New(node DHTNode, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		node:   node,
		logger: logger,
	}
	s.registerRoutes()
	return s
}

// Start starts the REST server on addr.
func (s *Server) Start(addr string) error {
	s.logger.Info("REST API listening", zap.String("addr", addr))
	return s.engine.Run(addr)
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")
	{
		v1.POST("/records", s.putRecord)
		v1.GET("/records/:key", s.getRecord)
		v1.GET("/status", s.status)
	}
}

// putRequest is the store payload: the application key and a base64 value.
type putRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value" binding:"required"`
}

func (s *Server) putRecord(c *gin.Context) {
	var req putRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	value, err := base64.StdEncoding.DecodeString(req.Value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value must be base64"})
		return
	}
	if err := s.node.Store(c.Request.Context(), []byte(req.Key), value); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, kademlia.ErrNetworkUnreachable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key":  req.Key,
		"hash": kademlia.KeyID([]byte(req.Key)).String(),
	})
}

func (s *Server) getRecord(c *gin.Context) {
	key := c.Param("key")
	value, err := s.node.Lookup(c.Request.Context(), []byte(key))
	if err != nil {
		switch {
		case errors.Is(err, kademlia.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, kademlia.ErrNetworkUnreachable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key":   key,
		"value": base64.StdEncoding.EncodeToString(value),
	})
}

func (s *Server) status(c *gin.Context) {
	self := s.node.Self()
	c.JSON(http.StatusOK, gin.H{
		"id":      self.ID.String(),
		"address": self.Address,
		"peers":   s.node.RoutingTable().Size(),
		"records": s.node.Records().Len(),
	})
}
