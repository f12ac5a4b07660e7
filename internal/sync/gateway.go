package sync

import (
	"context"

	"github.com/42zz/CaleNote-sub001/internal/model"
	"github.com/42zz/CaleNote-sub001/internal/remote"
)

// Gateway is the slice of the remote client the sync engine needs. Satisfied
// by *remote.Gateway; tests substitute fakes.
type Gateway interface {
	ListCollections(ctx context.Context) ([]model.Collection, remote.CallStats, error)
	ListItems(ctx context.Context, collectionID string, query remote.ItemsQuery) (remote.ItemsPage, remote.CallStats, error)
	CreateItem(ctx context.Context, collectionID string, payload remote.ItemPayload) (*model.RemoteItem, remote.CallStats, error)
	UpdateItem(ctx context.Context, collectionID, itemID string, payload remote.ItemPayload) (*model.RemoteItem, remote.CallStats, error)
	DeleteItem(ctx context.Context, collectionID, itemID string) (remote.CallStats, error)
}
