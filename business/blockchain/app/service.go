package app

import (
	"context"

	"github.com/fd1az/pricestream/business/blockchain/domain"
)

// BlockchainService exposes chain heads to other modules.
type BlockchainService struct {
	subscriber BlockSubscriber
}

// NewBlockchainService creates a new BlockchainService.
func NewBlockchainService(subscriber BlockSubscriber) *BlockchainService {
	return &BlockchainService{subscriber: subscriber}
}

// SubscribeBlocks starts the block subscription and returns the channel.
func (s *BlockchainService) SubscribeBlocks(ctx context.Context) (<-chan *domain.Block, error) {
	return s.subscriber.Subscribe(ctx)
}

// LatestBlock returns the current head.
func (s *BlockchainService) LatestBlock(ctx context.Context) (*domain.Block, error) {
	return s.subscriber.LatestBlock(ctx)
}

// Status returns the subscription status.
func (s *BlockchainService) Status() domain.ConnectionStatus {
	return s.subscriber.Status()
}
