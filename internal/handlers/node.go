package handlers

import (
	"newsrank/internal/services"

	"github.com/gin-gonic/gin"
)

type NodeHandler struct {
	engine *services.Engine
}

func NewNodeHandler(engine *services.Engine) *NodeHandler {
	return &NodeHandler{engine: engine}
}

// ListNodes 所有节点，提交新闻时用 node_id 选择
func (h *NodeHandler) ListNodes(c *gin.Context) {
	nodes, err := h.engine.Nodes(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, gin.H{"nodes": nodes})
}
