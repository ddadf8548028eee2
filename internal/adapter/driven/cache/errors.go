package cache

import (
	"fmt"

	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", types.ErrCacheUnavailable, op, err)
}
