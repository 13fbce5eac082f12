package memory

import "context"

// APIKeyRepository implements domain.APIKeyRepository over a fixed key set.
// Used with the memory and jsonl backends, where there is no database to
// hold keys.
type APIKeyRepository struct {
	keys map[string]struct{}
}

// NewAPIKeyRepository creates a static key repository. An empty key list
// means every key is rejected.
func NewAPIKeyRepository(keys []string) *APIKeyRepository {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			set[k] = struct{}{}
		}
	}
	return &APIKeyRepository{keys: set}
}

func (r *APIKeyRepository) IsValid(ctx context.Context, key string) (bool, error) {
	_, ok := r.keys[key]
	return ok, nil
}
