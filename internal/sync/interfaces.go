package sync

import "context"

// Remote is the slice of the cloud data service the synchronizers consume.
// *remote.Client satisfies it; tests substitute fakes.
type Remote interface {
	FetchByID(ctx context.Context, table, id string) (map[string]interface{}, error)
	FetchUpdatedSince(ctx context.Context, table, since string, limit int) ([]map[string]interface{}, error)
	Insert(ctx context.Context, table string, record map[string]interface{}) error
	Update(ctx context.Context, table, id string, data map[string]interface{}) error
	CountExact(ctx context.Context, table string, filters map[string]string) (int, error)
}

// NetworkState reports current connectivity. *network.Monitor satisfies it.
type NetworkState interface {
	IsOnline() bool
}
