package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/shardgate/internal/metadata"
	"github.com/soltixdb/shardgate/internal/models"
	"github.com/soltixdb/shardgate/internal/proxy"
)

func (h *Handler) summary(p *proxy.StoreProxy) models.ClusterSummary {
	cluster := p.Cluster()
	s := models.ClusterSummary{
		Name:         p.Name(),
		Type:         h.coord.Type(),
		RehashStatus: p.RehashStatus(),
		Serving:      h.coord.Serving(p.Name()),
	}
	if cluster != nil {
		s.Status = cluster.Status()
		s.ShardStrategy = cluster.ShardStrategy()
		s.Nodes = len(cluster.Nodes())
		s.ActiveNodes = len(cluster.ActiveNodes())
	}
	return s
}

// ListClusters lists the clusters this process serves
func (h *Handler) ListClusters(c *fiber.Ctx) error {
	resp := models.ClusterListResponse{
		Client:   h.coord.ClientName(),
		Clusters: make([]models.ClusterSummary, 0),
	}
	for _, name := range h.coord.Names() {
		p, err := h.coord.Proxy(name)
		if err != nil {
			// unregistered between Names and Proxy
			continue
		}
		resp.Clusters = append(resp.Clusters, h.summary(p))
	}
	return c.JSON(resp)
}

// GetCluster returns the served topology of one cluster
func (h *Handler) GetCluster(c *fiber.Ctx) error {
	p, err := h.coord.Proxy(c.Params("cluster"))
	if err != nil {
		return httpError(err)
	}
	resp := models.ClusterDetailResponse{ClusterSummary: h.summary(p)}
	if cluster := p.Cluster(); cluster != nil {
		resp.Topology = metadata.ExportTopology(cluster)
	}
	return c.JSON(resp)
}

func (h *Handler) endpointViews(endpoints []string) []models.EndpointView {
	out := make([]models.EndpointView, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, models.EndpointView{Endpoint: ep, Usable: h.coord.Usable(ep)})
	}
	return out
}

// Locate shows which node and endpoints a key is routed to
func (h *Handler) Locate(c *fiber.Ctx) error {
	name := c.Params("cluster")
	key := c.Params("key")

	node, err := h.coord.Locate(name, key)
	if err != nil {
		return httpError(err)
	}
	writes, err := h.coord.WriteEndpoints(node)
	if err != nil {
		return httpError(err)
	}
	reads, err := h.coord.ReadEndpoints(name, key, node)
	if err != nil {
		return httpError(err)
	}

	start, end, _ := node.Range()
	return c.JSON(models.LocateResponse{
		Cluster:        name,
		Key:            key,
		Node:           node.Name(),
		Start:          start,
		End:            end,
		WriteEndpoints: h.endpointViews(writes),
		ReadEndpoints:  h.endpointViews(reads),
	})
}

// GetStatus compares the local rehash state with what the coordination
// service holds for the cluster and all of its clients
func (h *Handler) GetStatus(c *fiber.Ctx) error {
	name := c.Params("cluster")
	p, err := h.coord.Proxy(name)
	if err != nil {
		return httpError(err)
	}

	ctx := c.UserContext()
	clusterStatus, err := h.status.ClusterStatus(ctx, h.coord.Type(), name)
	if err != nil {
		h.logger.Warn("Failed to read cluster status", "cluster", name, "error", err)
	}
	clients, err := h.status.ClientStatuses(ctx, h.coord.Type(), name)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(models.StatusResponse{
		Cluster:       name,
		Client:        h.coord.ClientName(),
		Local:         p.RehashStatus(),
		ClusterStatus: clusterStatus,
		Clients:       clients,
	})
}
