package ingestion

import (
	"context"

	v1 "github.com/bursarynetwork007/auxeira-backend-sub004/internal/api/v1"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/broker"
	"github.com/gin-gonic/gin"
)

// Publisher is the broker-facing surface the handlers need.
type Publisher interface {
	Publish(ctx context.Context, env *v1.Envelope) (broker.Ack, error)
	PublishBatch(ctx context.Context, envs []*v1.Envelope) ([]broker.Ack, error)
}

type Service struct {
	publisher        Publisher
	specs            *v1.PayloadSpecRegistry
	maxBodySizeBytes int
}

func NewService(pub Publisher, specs *v1.PayloadSpecRegistry, maxBodySizeMB int) *Service {
	if pub == nil {
		panic("ingestion: publisher must not be nil")
	}
	if specs == nil {
		panic("ingestion: payload spec registry must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		publisher:        pub,
		specs:            specs,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/events", s.IngestHandler)
	r.POST("/v1/events/batch", s.IngestBatchHandler)
}
